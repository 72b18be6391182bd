package forecast

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/smartzone/core/model"
)

const (
	numFeatures = 6
	// MinSamples is the number of hourly buckets a zone needs to be fitted.
	MinSamples = 3
	ridge      = 1e-6
)

// Features returns the regression inputs for an hour: intercept, the daily
// cycle as sin/cos, weekend, morning rush and evening rush.
func Features(at time.Time) []float64 {
	h := float64(at.Hour())
	angle := 2 * math.Pi * h / 24
	flag := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	wd := at.Weekday()
	return []float64{
		1,
		math.Sin(angle),
		math.Cos(angle),
		flag(wd == time.Saturday || wd == time.Sunday),
		flag(at.Hour() >= 7 && at.Hour() < 9),
		flag(at.Hour() >= 17 && at.Hour() < 19),
	}
}

type zoneModel struct {
	coef       []float64
	confidence float64
}

// RegressionProvider fits one linear model per zone on hourly request counts.
type RegressionProvider struct {
	mu     sync.RWMutex
	models map[string]zoneModel
}

// NewRegressionProvider returns an untrained provider.
func NewRegressionProvider() *RegressionProvider {
	return &RegressionProvider{models: map[string]zoneModel{}}
}

// Train replaces every zone model with one fitted on history. Zones with
// fewer than MinSamples hourly buckets are left without a model.
func (p *RegressionProvider) Train(ctx context.Context, history []model.RideRequest) error {
	buckets := map[string]map[time.Time]float64{}
	for _, r := range history {
		hour := r.CreatedAt.Truncate(time.Hour)
		b, ok := buckets[r.PickupZone]
		if !ok {
			b = map[time.Time]float64{}
			buckets[r.PickupZone] = b
		}
		b[hour]++
	}

	models := make(map[string]zoneModel, len(buckets))
	for zoneID, counts := range buckets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(counts) < MinSamples {
			continue
		}
		m, ok := fit(counts)
		if ok {
			models[zoneID] = m
		}
	}

	p.mu.Lock()
	p.models = models
	p.mu.Unlock()
	return nil
}

// fit solves the ridge-regularised normal equations. The tiny ridge keeps the
// system positive definite when a feature is constant over the samples.
func fit(counts map[time.Time]float64) (zoneModel, bool) {
	n := len(counts)
	x := mat.NewDense(n, numFeatures, nil)
	y := make([]float64, 0, n)
	i := 0
	for hour, c := range counts {
		x.SetRow(i, Features(hour))
		y = append(y, c)
		i++
	}

	gram := mat.NewSymDense(numFeatures, nil)
	gram.SymOuterK(1, x.T())
	for j := 0; j < numFeatures; j++ {
		gram.SetSym(j, j, gram.At(j, j)+ridge)
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(n, y))

	var chol mat.Cholesky
	if !chol.Factorize(gram) {
		return zoneModel{}, false
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return zoneModel{}, false
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	estimates := make([]float64, n)
	for k := range estimates {
		estimates[k] = fitted.AtVec(k)
	}
	r2 := 1.0
	if stat.Variance(y, nil) > 0 {
		r2 = stat.RSquaredFrom(estimates, y, nil)
	}
	coef := make([]float64, numFeatures)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}
	return zoneModel{coef: coef, confidence: math.Max(0, math.Min(1, r2))}, true
}

// Predict evaluates the zone model for the hour containing at.
func (p *RegressionProvider) Predict(zoneID string, at time.Time) (model.DemandPrediction, bool) {
	p.mu.RLock()
	m, ok := p.models[zoneID]
	p.mu.RUnlock()
	if !ok {
		return model.DemandPrediction{}, false
	}
	v := 0.0
	for j, f := range Features(at) {
		v += m.coef[j] * f
	}
	return model.DemandPrediction{
		ZoneID:          zoneID,
		Timestamp:       at.Truncate(time.Hour),
		PredictedDemand: math.Max(0, v),
		Confidence:      m.confidence,
	}, true
}

// Zones returns the number of zones with a fitted model.
func (p *RegressionProvider) Zones() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.models)
}
