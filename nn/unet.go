package nn

import (
	"fmt"

	"voxseg/tensor"
)

// UNetConfig describes the multi-resolution encoder-decoder: per-stage
// channel widths, per-stage downsampling strides (one fewer than the channel
// stages) and the number of residual units applied at every stage.
type UNetConfig struct {
	InChannels  int
	OutChannels int
	Channels    []int
	Strides     []int
	NumResUnits int
}

type encoderStage struct {
	units []*ResidualUnit
	down  *Conv3D // nil at the bottom stage
}

type decoderStage struct {
	up    *ConvTranspose3D
	units []*ResidualUnit
}

// UNet maps an input volume tensor to a per-voxel score map. Encoder stages
// apply residual blocks then downsample by the stage stride; the decoder
// mirrors them with transposed-convolution upsampling and concatenates the
// corresponding encoder feature map before residual refinement. The output
// projection emits raw logits; the sigmoid belongs to the loss and metric,
// not the model.
type UNet struct {
	cfg   UNetConfig
	stem  *Conv3D
	enc   []encoderStage
	dec   []decoderStage
	final *Conv3D

	skips []*tensor.Tensor
}

// NewUNet builds the network. Configuration errors (mismatched stage counts,
// non-positive widths) surface here, before any data flows.
func NewUNet(cfg UNetConfig) (*UNet, error) {
	if cfg.InChannels <= 0 || cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("channel counts must be positive, got in=%d out=%d", cfg.InChannels, cfg.OutChannels)
	}
	if len(cfg.Channels) < 2 {
		return nil, fmt.Errorf("unet needs at least two channel stages, got %v", cfg.Channels)
	}
	if len(cfg.Strides) != len(cfg.Channels)-1 {
		return nil, fmt.Errorf("unet needs one stride per downsampling step: %d channels require %d strides, got %d",
			len(cfg.Channels), len(cfg.Channels)-1, len(cfg.Strides))
	}
	for i, ch := range cfg.Channels {
		if ch <= 0 {
			return nil, fmt.Errorf("channel stage %d has width %d, must be positive", i, ch)
		}
	}
	for i, s := range cfg.Strides {
		if s <= 0 {
			return nil, fmt.Errorf("stride %d is %d, must be positive", i, s)
		}
	}
	if cfg.NumResUnits <= 0 {
		return nil, fmt.Errorf("residual unit count must be positive, got %d", cfg.NumResUnits)
	}

	u := &UNet{cfg: cfg}

	var err error
	u.stem, err = NewConv3D(cfg.InChannels, cfg.Channels[0], 3, 1, 1)
	if err != nil {
		return nil, fmt.Errorf("unet stem: %v", err)
	}

	levels := len(cfg.Channels)
	for i := 0; i < levels; i++ {
		stage := encoderStage{}
		for r := 0; r < cfg.NumResUnits; r++ {
			unit, err := NewResidualUnit(cfg.Channels[i], cfg.Channels[i])
			if err != nil {
				return nil, fmt.Errorf("unet encoder stage %d: %v", i, err)
			}
			stage.units = append(stage.units, unit)
		}
		if i < levels-1 {
			stage.down, err = NewConv3D(cfg.Channels[i], cfg.Channels[i+1], 3, cfg.Strides[i], 1)
			if err != nil {
				return nil, fmt.Errorf("unet downsample %d: %v", i, err)
			}
		}
		u.enc = append(u.enc, stage)
	}

	for i := 0; i < levels-1; i++ {
		stage := decoderStage{}
		stage.up, err = NewConvTranspose3D(cfg.Channels[i+1], cfg.Channels[i], cfg.Strides[i])
		if err != nil {
			return nil, fmt.Errorf("unet upsample %d: %v", i, err)
		}
		for r := 0; r < cfg.NumResUnits; r++ {
			in := cfg.Channels[i]
			if r == 0 {
				in = 2 * cfg.Channels[i] // skip concatenation doubles the width
			}
			unit, err := NewResidualUnit(in, cfg.Channels[i])
			if err != nil {
				return nil, fmt.Errorf("unet decoder stage %d: %v", i, err)
			}
			stage.units = append(stage.units, unit)
		}
		u.dec = append(u.dec, stage)
	}

	u.final, err = NewConv3D(cfg.Channels[0], cfg.OutChannels, 1, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("unet output projection: %v", err)
	}

	return u, nil
}

// ValidateInputShape checks that every spatial dimension is divisible by the
// cumulative product of strides. Violations would surface as decoder shape
// mismatches mid-forward; checking at setup keeps the coupling between crop
// size and stride configuration explicit.
func (u *UNet) ValidateInputShape(spatial []int) error {
	if len(spatial) != 3 {
		return fmt.Errorf("expected 3 spatial dimensions, got %v", spatial)
	}
	product := 1
	for _, s := range u.cfg.Strides {
		product *= s
	}
	for i, dim := range spatial {
		if dim <= 0 || dim%product != 0 {
			return fmt.Errorf("spatial dimension %d (%d) must be a positive multiple of the cumulative stride %d",
				i, dim, product)
		}
	}
	return nil
}

// Forward runs the encoder-decoder on [N, InChannels, X, Y, Z] input and
// returns raw logits of shape [N, OutChannels, X, Y, Z].
func (u *UNet) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if len(input.Shape) != 5 {
		return nil, fmt.Errorf("unet expects 5D input [N, C, X, Y, Z], got shape %v", input.Shape)
	}
	if input.Shape[1] != u.cfg.InChannels {
		return nil, fmt.Errorf("unet input channel mismatch: expected %d, got %d", u.cfg.InChannels, input.Shape[1])
	}

	h, err := u.stem.Forward(input)
	if err != nil {
		return nil, err
	}

	levels := len(u.cfg.Channels)
	u.skips = make([]*tensor.Tensor, levels-1)
	for i := 0; i < levels; i++ {
		for _, unit := range u.enc[i].units {
			if h, err = unit.Forward(h); err != nil {
				return nil, fmt.Errorf("encoder stage %d: %v", i, err)
			}
		}
		if i < levels-1 {
			u.skips[i] = h
			if h, err = u.enc[i].down.Forward(h); err != nil {
				return nil, fmt.Errorf("downsample %d: %v", i, err)
			}
		}
	}

	for i := levels - 2; i >= 0; i-- {
		if h, err = u.dec[i].up.Forward(h); err != nil {
			return nil, fmt.Errorf("upsample %d: %v", i, err)
		}
		if h, err = concatChannels(u.skips[i], h); err != nil {
			return nil, fmt.Errorf("skip connection %d: %v", i, err)
		}
		for _, unit := range u.dec[i].units {
			if h, err = unit.Forward(h); err != nil {
				return nil, fmt.Errorf("decoder stage %d: %v", i, err)
			}
		}
	}

	return u.final.Forward(h)
}

// Backward propagates the output gradient through the decoder and encoder,
// accumulating parameter gradients, and returns the input gradient.
func (u *UNet) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if u.skips == nil {
		return nil, fmt.Errorf("unet backward called before forward")
	}

	g, err := u.final.Backward(gradOutput)
	if err != nil {
		return nil, err
	}

	levels := len(u.cfg.Channels)
	skipGrads := make([]*tensor.Tensor, levels-1)
	for i := 0; i < levels-1; i++ {
		for j := len(u.dec[i].units) - 1; j >= 0; j-- {
			if g, err = u.dec[i].units[j].Backward(g); err != nil {
				return nil, fmt.Errorf("decoder stage %d backward: %v", i, err)
			}
		}
		var gUp *tensor.Tensor
		skipGrads[i], gUp, err = splitChannels(g, u.cfg.Channels[i])
		if err != nil {
			return nil, fmt.Errorf("skip connection %d backward: %v", i, err)
		}
		if g, err = u.dec[i].up.Backward(gUp); err != nil {
			return nil, fmt.Errorf("upsample %d backward: %v", i, err)
		}
	}

	for j := len(u.enc[levels-1].units) - 1; j >= 0; j-- {
		if g, err = u.enc[levels-1].units[j].Backward(g); err != nil {
			return nil, fmt.Errorf("bottom stage backward: %v", err)
		}
	}
	for i := levels - 2; i >= 0; i-- {
		if g, err = u.enc[i].down.Backward(g); err != nil {
			return nil, fmt.Errorf("downsample %d backward: %v", i, err)
		}
		for k, v := range skipGrads[i].Data {
			g.Data[k] += v
		}
		for j := len(u.enc[i].units) - 1; j >= 0; j-- {
			if g, err = u.enc[i].units[j].Backward(g); err != nil {
				return nil, fmt.Errorf("encoder stage %d backward: %v", i, err)
			}
		}
	}

	return u.stem.Backward(g)
}

// Parameters returns every trainable tensor of the network.
func (u *UNet) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, np := range u.NamedParameters() {
		params = append(params, np.Tensor)
	}
	return params
}

// NamedParameters returns every trainable tensor with a stable name for
// checkpoint serialization.
func (u *UNet) NamedParameters() []NamedParameter {
	var params []NamedParameter
	params = append(params, namedConvParams("stem", u.stem)...)
	for i, stage := range u.enc {
		for r, unit := range stage.units {
			params = append(params, namedResUnitParams(fmt.Sprintf("enc%d.res%d", i, r), unit)...)
		}
		if stage.down != nil {
			params = append(params, namedConvParams(fmt.Sprintf("enc%d.down", i), stage.down)...)
		}
	}
	for i, stage := range u.dec {
		params = append(params, namedConvTransposeParams(fmt.Sprintf("dec%d.up", i), stage.up)...)
		for r, unit := range stage.units {
			params = append(params, namedResUnitParams(fmt.Sprintf("dec%d.res%d", i, r), unit)...)
		}
	}
	params = append(params, namedConvParams("final", u.final)...)
	return params
}

func namedConvParams(prefix string, c *Conv3D) []NamedParameter {
	return []NamedParameter{
		{Name: prefix + ".weight", Tensor: c.weight},
		{Name: prefix + ".bias", Tensor: c.bias},
	}
}

func namedConvTransposeParams(prefix string, c *ConvTranspose3D) []NamedParameter {
	return []NamedParameter{
		{Name: prefix + ".weight", Tensor: c.weight},
		{Name: prefix + ".bias", Tensor: c.bias},
	}
}

func namedResUnitParams(prefix string, r *ResidualUnit) []NamedParameter {
	params := namedConvParams(prefix+".conv1", r.conv1)
	params = append(params, NamedParameter{Name: prefix + ".act1.alpha", Tensor: r.act1.alpha})
	params = append(params, namedConvParams(prefix+".conv2", r.conv2)...)
	params = append(params, NamedParameter{Name: prefix + ".act_out.alpha", Tensor: r.actOut.alpha})
	if r.proj != nil {
		params = append(params, namedConvParams(prefix+".proj", r.proj)...)
	}
	return params
}

// concatChannels joins two tensors along the channel dimension, sample by
// sample. Spatial shapes must agree.
func concatChannels(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if len(a.Shape) != 5 || len(b.Shape) != 5 {
		return nil, fmt.Errorf("channel concat expects 5D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("channel concat batch mismatch: %d vs %d", a.Shape[0], b.Shape[0])
	}
	for d := 2; d < 5; d++ {
		if a.Shape[d] != b.Shape[d] {
			return nil, fmt.Errorf("channel concat spatial mismatch: %v vs %v", a.Shape, b.Shape)
		}
	}

	n := a.Shape[0]
	ca, cb := a.Shape[1], b.Shape[1]
	spatial := a.Shape[2] * a.Shape[3] * a.Shape[4]
	out, err := tensor.Zeros([]int{n, ca + cb, a.Shape[2], a.Shape[3], a.Shape[4]})
	if err != nil {
		return nil, err
	}
	for s := 0; s < n; s++ {
		copy(out.Data[s*(ca+cb)*spatial:], a.Data[s*ca*spatial:(s+1)*ca*spatial])
		copy(out.Data[s*(ca+cb)*spatial+ca*spatial:], b.Data[s*cb*spatial:(s+1)*cb*spatial])
	}
	return out, nil
}

// splitChannels undoes concatChannels, returning the leading firstChannels
// block and the remainder.
func splitChannels(t *tensor.Tensor, firstChannels int) (*tensor.Tensor, *tensor.Tensor, error) {
	if len(t.Shape) != 5 {
		return nil, nil, fmt.Errorf("channel split expects a 5D tensor, got %v", t.Shape)
	}
	total := t.Shape[1]
	if firstChannels <= 0 || firstChannels >= total {
		return nil, nil, fmt.Errorf("cannot split %d channels off a %d-channel tensor", firstChannels, total)
	}

	n := t.Shape[0]
	cb := total - firstChannels
	spatial := t.Shape[2] * t.Shape[3] * t.Shape[4]
	a, err := tensor.Zeros([]int{n, firstChannels, t.Shape[2], t.Shape[3], t.Shape[4]})
	if err != nil {
		return nil, nil, err
	}
	b, err := tensor.Zeros([]int{n, cb, t.Shape[2], t.Shape[3], t.Shape[4]})
	if err != nil {
		return nil, nil, err
	}
	for s := 0; s < n; s++ {
		base := s * total * spatial
		copy(a.Data[s*firstChannels*spatial:], t.Data[base:base+firstChannels*spatial])
		copy(b.Data[s*cb*spatial:], t.Data[base+firstChannels*spatial:base+total*spatial])
	}
	return a, b, nil
}
