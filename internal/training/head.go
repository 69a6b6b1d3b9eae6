package training

import (
	"math"
	"math/rand"

	"github.com/Brownie44l1/plantdx-api/internal/model"
)

// HeadTrainer fits a model.Head on precomputed features with mini-batch Adam
// and categorical cross-entropy.
type HeadTrainer struct {
	head  *model.Head
	opt   *adam
	batch int
	rng   *rand.Rand

	grads [][]float64
}

func NewHeadTrainer(inputDim, hidden, classes int, learningRate float64, batch int, rng *rand.Rand) *HeadTrainer {
	head := model.NewHead(inputDim, hidden, classes)
	// He init for the ReLU layer, Glorot for the softmax layer.
	initNormal(head.W1, math.Sqrt(2/float64(inputDim)), rng)
	initNormal(head.W2, math.Sqrt(2/float64(hidden+classes)), rng)

	if batch <= 0 {
		batch = 32
	}
	params := head.Params()
	grads := make([][]float64, len(params))
	for i, p := range params {
		grads[i] = make([]float64, len(p))
	}

	return &HeadTrainer{
		head:  head,
		opt:   newAdam(learningRate, params),
		batch: batch,
		rng:   rng,
		grads: grads,
	}
}

func (t *HeadTrainer) Head() *model.Head { return t.head }

// Epoch runs one shuffled pass over x and returns the mean loss and accuracy
// observed while training.
func (t *HeadTrainer) Epoch(x [][]float64, y []int) (loss, accuracy float64) {
	order := t.rng.Perm(len(x))
	correct := 0

	for start := 0; start < len(order); start += t.batch {
		end := min(start+t.batch, len(order))
		for _, g := range t.grads {
			clear(g)
		}

		for _, idx := range order[start:end] {
			l, ok := t.accumulate(x[idx], y[idx])
			loss += l
			if ok {
				correct++
			}
		}

		scale := 1 / float64(end-start)
		for _, g := range t.grads {
			for i := range g {
				g[i] *= scale
			}
		}
		t.opt.step(t.head.Params(), t.grads)
	}

	n := float64(len(x))
	return loss / n, float64(correct) / n
}

// accumulate adds one sample's gradients and reports its loss and whether it
// was classified correctly before the update.
func (t *HeadTrainer) accumulate(x []float64, label int) (float64, bool) {
	h := t.head
	hidden, probs := h.Activations(x)
	gW1, gB1, gW2, gB2 := t.grads[0], t.grads[1], t.grads[2], t.grads[3]

	dHidden := make([]float64, h.Hidden)
	for k := 0; k < h.Classes; k++ {
		d := probs[k]
		if k == label {
			d--
		}
		gB2[k] += d
		row := k * h.Hidden
		for j, a := range hidden {
			gW2[row+j] += d * a
			dHidden[j] += h.W2[row+j] * d
		}
	}

	for j, d := range dHidden {
		if hidden[j] <= 0 {
			continue
		}
		gB1[j] += d
		row := j * h.InputDim
		for i, v := range x {
			gW1[row+i] += d * v
		}
	}

	return crossEntropy(probs, label), argmaxF64(probs) == label
}

// Evaluate returns the mean loss and accuracy of head on x.
func Evaluate(head *model.Head, x [][]float64, y []int) (loss, accuracy float64) {
	if len(x) == 0 {
		return 0, 0
	}
	correct := 0
	for i := range x {
		_, probs := head.Activations(x[i])
		loss += crossEntropy(probs, y[i])
		if argmaxF64(probs) == y[i] {
			correct++
		}
	}
	n := float64(len(x))
	return loss / n, float64(correct) / n
}

func crossEntropy(probs []float64, label int) float64 {
	return -math.Log(math.Max(probs[label], 1e-12))
}

func argmaxF64(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func initNormal(w []float64, std float64, rng *rand.Rand) {
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
}

type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(lr float64, params [][]float64) *adam {
	if lr <= 0 {
		lr = 0.001
	}
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, p := range params {
		a.m = append(a.m, make([]float64, len(p)))
		a.v = append(a.v, make([]float64, len(p)))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))

	for p := range params {
		m, v, g := a.m[p], a.v[p], grads[p]
		for i := range params[p] {
			m[i] = a.beta1*m[i] + (1-a.beta1)*g[i]
			v[i] = a.beta2*v[i] + (1-a.beta2)*g[i]*g[i]
			params[p][i] -= a.lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + a.eps)
		}
	}
}
