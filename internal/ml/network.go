package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Regressor is the trainable comfort model as seen by the scoring and
// training services.
type Regressor interface {
	Predict(input []float64) ([]float64, error)
	Fit(inputs, outputs [][]float64, cfg FitConfig) (*TrainingLog, error)
	Save(ctx context.Context) error
	Load(ctx context.Context) error
	Version() string
}

// FitConfig bounds a training run. Training stops only when Epochs is reached.
type FitConfig struct {
	Epochs          int     `json:"epochs"`
	BatchSize       int     `json:"batch_size"`
	ValidationSplit float64 `json:"validation_split"`
}

type EpochLog struct {
	Epoch   int     `json:"epoch"`
	Loss    float64 `json:"loss"`
	ValLoss float64 `json:"val_loss"`
}

type TrainingLog struct {
	Epochs       []EpochLog `json:"epochs"`
	FinalLoss    float64    `json:"final_loss"`
	FinalValLoss float64    `json:"final_val_loss"`
	Samples      int        `json:"samples"`
	Validation   int        `json:"validation"`
}

// NetworkConfig describes the comfort network topology and optimiser.
type NetworkConfig struct {
	Name         string
	Hidden       []int
	Dropout      []float64 // per hidden layer, applied after its activation
	LearningRate float64
	Seed         uint64
}

func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Name:         "comfort_model",
		Hidden:       []int{29, 16, 8},
		Dropout:      []float64{0.3, 0.2, 0},
		LearningRate: 0.001,
		Seed:         42,
	}
}

// params is an immutable set of layer weights once published.
type params struct {
	weights   []*mat.Dense // layer l is out x in
	biases    [][]float64
	version   string
	updatedAt time.Time
}

func (p *params) clone() *params {
	c := &params{
		weights:   make([]*mat.Dense, len(p.weights)),
		biases:    make([][]float64, len(p.biases)),
		version:   p.version,
		updatedAt: p.updatedAt,
	}
	for i, w := range p.weights {
		c.weights[i] = mat.DenseCopyOf(w)
	}
	for i, b := range p.biases {
		c.biases[i] = append([]float64(nil), b...)
	}
	return c
}

// ComfortNetwork is a small feed-forward regressor: ReLU hidden layers with
// dropout during training and a sigmoid output, trained with Adam on MSE.
//
// Readers always see a complete weight set: Fit trains a private copy and
// publishes it with a single atomic swap.
type ComfortNetwork struct {
	cfg    NetworkConfig
	sizes  []int
	store  WeightStore
	logger *logrus.Logger

	current atomic.Pointer[params]

	fitMu sync.Mutex
	rng   *rand.Rand
}

func NewComfortNetwork(cfg NetworkConfig, store WeightStore, logger *logrus.Logger) *ComfortNetwork {
	if cfg.Name == "" {
		cfg.Name = DefaultNetworkConfig().Name
	}
	if len(cfg.Hidden) == 0 {
		cfg.Hidden = DefaultNetworkConfig().Hidden
		cfg.Dropout = DefaultNetworkConfig().Dropout
	}
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultNetworkConfig().LearningRate
	}

	sizes := append([]int{FeatureCount}, cfg.Hidden...)
	sizes = append(sizes, OutputCount)

	n := &ComfortNetwork{
		cfg:    cfg,
		sizes:  sizes,
		store:  store,
		logger: logger,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
	n.current.Store(n.initialParams())
	return n
}

// initialParams uses He initialisation for ReLU layers and Glorot for the
// sigmoid output layer.
func (n *ComfortNetwork) initialParams() *params {
	layers := len(n.sizes) - 1
	p := &params{
		weights:   make([]*mat.Dense, layers),
		biases:    make([][]float64, layers),
		version:   "init",
		updatedAt: time.Now(),
	}
	for l := 0; l < layers; l++ {
		in, out := n.sizes[l], n.sizes[l+1]
		data := make([]float64, out*in)
		if l == layers-1 {
			limit := math.Sqrt(6.0 / float64(in+out))
			for i := range data {
				data[i] = (n.rng.Float64()*2 - 1) * limit
			}
		} else {
			std := math.Sqrt(2.0 / float64(in))
			for i := range data {
				data[i] = n.rng.NormFloat64() * std
			}
		}
		p.weights[l] = mat.NewDense(out, in, data)
		p.biases[l] = make([]float64, out)
	}
	return p
}

func (n *ComfortNetwork) Name() string { return n.cfg.Name }

// Sizes returns the layer widths from input to output.
func (n *ComfortNetwork) Sizes() []int { return append([]int(nil), n.sizes...) }

func (n *ComfortNetwork) Version() string { return n.current.Load().version }

// Predict runs one forward pass. Safe for concurrent use.
func (n *ComfortNetwork) Predict(input []float64) ([]float64, error) {
	if len(input) != FeatureCount {
		return nil, fmt.Errorf("input dimension mismatch: expected %d, got %d", FeatureCount, len(input))
	}
	p := n.current.Load()
	x := mat.NewDense(1, FeatureCount, append([]float64(nil), input...))
	out := forward(p, x)
	return out.RawRowView(0), nil
}

func forward(p *params, x *mat.Dense) *mat.Dense {
	a := x
	last := len(p.weights) - 1
	for l, w := range p.weights {
		z := affine(a, w, p.biases[l])
		if l == last {
			z.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, z)
		} else {
			z.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
		}
		a = z
	}
	return a
}

func affine(a, w *mat.Dense, b []float64) *mat.Dense {
	z := new(mat.Dense)
	z.Mul(a, w.T())
	z.Apply(func(_, j int, v float64) float64 { return v + b[j] }, z)
	return z
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}

// Fit trains on inputs/outputs for exactly cfg.Epochs epochs. The trailing
// ValidationSplit fraction of the samples is held out and only evaluated.
func (n *ComfortNetwork) Fit(inputs, outputs [][]float64, cfg FitConfig) (*TrainingLog, error) {
	if len(inputs) == 0 || len(inputs) != len(outputs) {
		return nil, fmt.Errorf("training set size mismatch: %d inputs, %d outputs", len(inputs), len(outputs))
	}
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid fit config: epochs=%d batch_size=%d", cfg.Epochs, cfg.BatchSize)
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit >= 1 {
		return nil, fmt.Errorf("validation split must be in [0,1), got %v", cfg.ValidationSplit)
	}
	for i := range inputs {
		if len(inputs[i]) != FeatureCount || len(outputs[i]) != OutputCount {
			return nil, fmt.Errorf("sample %d has wrong dimensions", i)
		}
	}

	n.fitMu.Lock()
	defer n.fitMu.Unlock()

	split := int(math.Floor(float64(len(inputs)) * (1 - cfg.ValidationSplit)))
	if split == 0 {
		return nil, fmt.Errorf("validation split leaves no training samples")
	}

	trainX, trainY := toDense(inputs[:split]), toDense(outputs[:split])
	var valX, valY *mat.Dense
	if split < len(inputs) {
		valX, valY = toDense(inputs[split:]), toDense(outputs[split:])
	}

	work := n.current.Load().clone()
	opt := newAdam(work, n.cfg.LearningRate)
	log := &TrainingLog{Samples: split, Validation: len(inputs) - split}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		perm := n.rng.Perm(split)
		var lossSum float64
		for start := 0; start < split; start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, split)
			xb, yb := gatherRows(trainX, perm[start:end]), gatherRows(trainY, perm[start:end])
			lossSum += n.step(work, opt, xb, yb) * float64(end-start)
		}

		entry := EpochLog{Epoch: epoch, Loss: lossSum / float64(split)}
		if valX != nil {
			entry.ValLoss = meanSquaredError(forward(work, valX), valY)
		}
		log.Epochs = append(log.Epochs, entry)

		if epoch%10 == 0 {
			n.logger.WithFields(logrus.Fields{
				"epoch":    epoch,
				"loss":     entry.Loss,
				"val_loss": entry.ValLoss,
			}).Debug("Comfort model epoch completed")
		}
	}

	last := log.Epochs[len(log.Epochs)-1]
	log.FinalLoss, log.FinalValLoss = last.Loss, last.ValLoss

	work.updatedAt = time.Now()
	work.version = GenerateModelHash(n.cfg.Name, map[string]interface{}{
		"trained_at": work.updatedAt.UnixNano(),
		"samples":    len(inputs),
		"loss":       log.FinalLoss,
	})
	n.current.Store(work)

	return log, nil
}

// step runs forward and backward passes over one batch and applies an Adam
// update to p in place. It returns the batch loss.
func (n *ComfortNetwork) step(p *params, opt *adam, x, y *mat.Dense) float64 {
	rows, _ := x.Dims()
	layers := len(p.weights)

	acts := make([]*mat.Dense, layers+1)
	pre := make([]*mat.Dense, layers)
	masks := make([]*mat.Dense, layers)
	acts[0] = x

	for l := 0; l < layers; l++ {
		z := affine(acts[l], p.weights[l], p.biases[l])
		pre[l] = z
		a := new(mat.Dense)
		if l == layers-1 {
			a.Apply(func(_, _ int, v float64) float64 { return sigmoid(v) }, z)
		} else {
			a.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
			if rate := n.dropoutRate(l); rate > 0 {
				r, c := a.Dims()
				masks[l] = n.dropoutMask(r, c, rate)
				a.MulElem(a, masks[l])
			}
		}
		acts[l+1] = a
	}

	out := acts[layers]
	_, outs := out.Dims()
	loss := meanSquaredError(out, y)

	scale := 2 / float64(rows*outs)
	delta := new(mat.Dense)
	delta.Apply(func(i, j int, v float64) float64 {
		a := out.At(i, j)
		return (v - y.At(i, j)) * scale * a * (1 - a)
	}, out)

	opt.tick()
	for l := layers - 1; l >= 0; l-- {
		gw := new(mat.Dense)
		gw.Mul(delta.T(), acts[l])
		gb := columnSums(delta)

		var next *mat.Dense
		if l > 0 {
			next = new(mat.Dense)
			next.Mul(delta, p.weights[l])
			z, mask := pre[l-1], masks[l-1]
			next.Apply(func(i, j int, v float64) float64 {
				if z.At(i, j) <= 0 {
					return 0
				}
				if mask != nil {
					return v * mask.At(i, j)
				}
				return v
			}, next)
		}

		opt.apply(l, p, gw, gb)
		delta = next
	}

	return loss
}

func (n *ComfortNetwork) dropoutRate(hidden int) float64 {
	if hidden < len(n.cfg.Dropout) {
		return n.cfg.Dropout[hidden]
	}
	return 0
}

// dropoutMask builds an inverted-dropout mask: kept units are scaled by 1/keep.
func (n *ComfortNetwork) dropoutMask(rows, cols int, rate float64) *mat.Dense {
	keep := 1 - rate
	data := make([]float64, rows*cols)
	for i := range data {
		if n.rng.Float64() < keep {
			data[i] = 1 / keep
		}
	}
	return mat.NewDense(rows, cols, data)
}

func meanSquaredError(pred, target *mat.Dense) float64 {
	r, c := pred.Dims()
	var sum float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d := pred.At(i, j) - target.At(i, j)
			sum += d * d
		}
	}
	return sum / float64(r*c)
}

func columnSums(m *mat.Dense) []float64 {
	r, c := m.Dims()
	sums := make([]float64, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			sums[j] += m.At(i, j)
		}
	}
	return sums
}

func toDense(rows [][]float64) *mat.Dense {
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, r := range rows {
		data = append(data, r...)
	}
	return mat.NewDense(len(rows), cols, data)
}

func gatherRows(m *mat.Dense, idx []int) *mat.Dense {
	_, c := m.Dims()
	data := make([]float64, 0, len(idx)*c)
	for _, i := range idx {
		data = append(data, m.RawRowView(i)...)
	}
	return mat.NewDense(len(idx), c, data)
}

// adam holds first and second moment estimates for every parameter.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	mW, vW, mB, vB        [][]float64
}

func newAdam(p *params, lr float64) *adam {
	o := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for l, w := range p.weights {
		r, c := w.Dims()
		o.mW = append(o.mW, make([]float64, r*c))
		o.vW = append(o.vW, make([]float64, r*c))
		o.mB = append(o.mB, make([]float64, len(p.biases[l])))
		o.vB = append(o.vB, make([]float64, len(p.biases[l])))
	}
	return o
}

func (o *adam) tick() { o.t++ }

func (o *adam) apply(l int, p *params, gw *mat.Dense, gb []float64) {
	o.update(p.weights[l].RawMatrix().Data, gw.RawMatrix().Data, o.mW[l], o.vW[l])
	o.update(p.biases[l], gb, o.mB[l], o.vB[l])
}

func (o *adam) update(theta, grad, m, v []float64) {
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i, g := range grad {
		m[i] = o.beta1*m[i] + (1-o.beta1)*g
		v[i] = o.beta2*v[i] + (1-o.beta2)*g*g
		theta[i] -= o.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + o.eps)
	}
}

// Save persists the currently published weights.
func (n *ComfortNetwork) Save(ctx context.Context) error {
	if n.store == nil {
		return fmt.Errorf("no weight store configured")
	}
	snap := n.snapshot()
	if err := n.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save %s weights: %w", n.cfg.Name, err)
	}
	n.logger.WithFields(logrus.Fields{
		"model":   n.cfg.Name,
		"version": snap.Version,
	}).Info("Comfort model weights saved")
	return nil
}

// Load replaces the published weights with the stored ones. ErrNoWeights is
// returned unchanged so callers can fall back to fresh weights.
func (n *ComfortNetwork) Load(ctx context.Context) error {
	if n.store == nil {
		return ErrNoWeights
	}
	snap, err := n.store.Load(ctx, n.cfg.Name)
	if err != nil {
		if errors.Is(err, ErrNoWeights) {
			return err
		}
		return fmt.Errorf("failed to load %s weights: %w", n.cfg.Name, err)
	}
	p, err := n.fromSnapshot(snap)
	if err != nil {
		return err
	}
	n.current.Store(p)
	return nil
}

func (n *ComfortNetwork) snapshot() *WeightSnapshot {
	p := n.current.Load()
	snap := &WeightSnapshot{
		Name:    n.cfg.Name,
		Version: p.version,
		Sizes:   n.Sizes(),
		SavedAt: time.Now(),
	}
	for l, w := range p.weights {
		r, c := w.Dims()
		snap.Layers = append(snap.Layers, LayerSnapshot{
			Rows:    r,
			Cols:    c,
			Weights: append([]float64(nil), w.RawMatrix().Data...),
			Bias:    append([]float64(nil), p.biases[l]...),
		})
	}
	return snap
}

func (n *ComfortNetwork) fromSnapshot(snap *WeightSnapshot) (*params, error) {
	if len(snap.Layers) != len(n.sizes)-1 {
		return nil, fmt.Errorf("weight snapshot has %d layers, expected %d", len(snap.Layers), len(n.sizes)-1)
	}
	p := &params{version: snap.Version, updatedAt: snap.SavedAt}
	for l, layer := range snap.Layers {
		in, out := n.sizes[l], n.sizes[l+1]
		if layer.Rows != out || layer.Cols != in || len(layer.Weights) != out*in || len(layer.Bias) != out {
			return nil, fmt.Errorf("weight snapshot layer %d has shape %dx%d, expected %dx%d", l, layer.Rows, layer.Cols, out, in)
		}
		p.weights = append(p.weights, mat.NewDense(out, in, append([]float64(nil), layer.Weights...)))
		p.biases = append(p.biases, append([]float64(nil), layer.Bias...))
	}
	return p, nil
}
