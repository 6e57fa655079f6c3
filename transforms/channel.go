package transforms

import (
	"fmt"

	"voxseg/volume"
)

// AddChannel inserts a leading channel dimension of size 1 into an
// unchannelled rank-3 volume. It is a structural adapter applied exactly once
// per sample; applying it to a volume that already carries a channel
// dimension is an error.
type AddChannel struct{}

// NewAddChannel creates the channel-insertion transform.
func NewAddChannel() *AddChannel {
	return &AddChannel{}
}

// Apply prepends the channel dimension.
func (a *AddChannel) Apply(v *volume.Volume) (*volume.Volume, error) {
	if v.Rank() != 3 {
		return nil, fmt.Errorf("add channel requires a rank-3 volume, got shape %v", v.Shape)
	}
	out := v.Clone()
	out.Shape = append([]int{1}, out.Shape...)
	return out, nil
}
