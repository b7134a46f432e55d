package field

import (
	"fmt"
	"sort"

	"elysia/internal/logging"

	"github.com/google/uuid"
)

// Spark is one discharge between two concepts.
type Spark struct {
	ID          string  `json:"id"`
	A           string  `json:"a"`
	B           string  `json:"b"`
	Port        string  `json:"port"`
	Tension     float64 `json:"tension"`
	Description string  `json:"description"`
}

// priority returns all concept ids sorted by charge*curvature descending,
// ties kept in registration order.
func (f *TensionField) priority() []string {
	ids := f.Concepts()
	sort.SliceStable(ids, func(i, j int) bool {
		return f.gravityWeight(ids[i]) > f.gravityWeight(ids[j])
	})
	return ids
}

func (f *TensionField) gravityWeight(id string) float64 {
	return f.charges[id] * f.shapes[id].Curvature
}

// DischargeLightning runs one discharge pass:
//
//  1. one ApplyGravity step
//  2. rank every concept by charge*curvature
//  3. seeds are the ranked concepts with charge > CriticalCharge
//  4. each seed scans every other ranked concept and connects to the first
//     one whose effective tension reaches the threshold and whose shape fits
//  5. both ends keep DischargeResidual of their charge and gain DefaultReinforce curvature
//
// A seed connects at most once per pass. Charges mutated by earlier sparks are
// visible to later seeds. The result is in seed order; nil when nothing fires.
func (f *TensionField) DischargeLightning() []Spark {
	f.ApplyGravity()

	ranked := f.priority()
	seeds := make([]string, 0, len(ranked))
	for _, id := range ranked {
		if f.charges[id] > CriticalCharge {
			seeds = append(seeds, id)
		}
	}

	log := f.log(logging.CategoryLightning)
	log.Debug("discharge pass: %d concepts, %d seeds, threshold %.2f", len(ranked), len(seeds), f.threshold)

	var sparks []Spark
	for _, c1 := range seeds {
		for _, c2 := range ranked {
			if c1 == c2 {
				continue
			}
			tension := f.EffectiveTension(c1, c2)
			if tension < f.threshold {
				continue
			}
			fit, ok := f.shapes[c1].FindFit(f.shapes[c2])
			if !ok {
				continue
			}

			spark := Spark{
				ID:          uuid.NewString(),
				A:           c1,
				B:           c2,
				Port:        fit.Mine.Name,
				Tension:     tension,
				Description: describeSpark(c1, c2, fit.Mine.Name, tension),
			}
			sparks = append(sparks, spark)

			f.charges[c1] *= DischargeResidual
			f.charges[c2] *= DischargeResidual
			_ = f.ReinforceWell(c1, DefaultReinforce)
			_ = f.ReinforceWell(c2, DefaultReinforce)

			log.Info("spark %s", spark.Description)
			break
		}
	}
	return sparks
}

func describeSpark(a, b, port string, tension float64) string {
	return fmt.Sprintf("%s <-[%s]-> %s (tension %.2f)", a, port, b, tension)
}
