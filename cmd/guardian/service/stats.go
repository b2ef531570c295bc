package service

import "math"

// Daily study time of the reference population the provisional rank is
// measured against.
const (
	populationSize  = 7676
	populationMean  = 60.0
	populationSD    = 45.0
	firstOfDayBonus = 30
	bonusMinMinutes = 5
)

type Estimate struct {
	Position  int64   `json:"position"`
	Deviation float64 `json:"deviation"`
	Overtaken int64   `json:"overtaken"`
}

func topShare(minutes, mean, sd float64) float64 {
	z := (minutes - mean) / sd
	return 1 - 0.5*(1+math.Erf(z/math.Sqrt2))
}

// EstimateRank places minutes studied over days within the population.
// It reports false for a non-positive duration.
func EstimateRank(minutes int64, days int) (Estimate, bool) {
	if minutes <= 0 || days <= 0 {
		return Estimate{}, false
	}
	mean := populationMean * float64(days)
	sd := populationSD * math.Sqrt(float64(days))
	m := float64(minutes)

	pos := int64(populationSize * topShare(m, mean, sd))
	if pos < 1 {
		pos = 1
	}
	zero := int64(populationSize * topShare(0, mean, sd))
	dev := ((m-mean)/sd)*10 + 50
	return Estimate{
		Position:  pos,
		Deviation: math.Round(dev*10) / 10,
		Overtaken: zero - pos,
	}, true
}

// RankLetter maps cumulative approved minutes to a rank.
func RankLetter(total int64) string {
	switch {
	case total >= 6000:
		return "S"
	case total >= 3000:
		return "A"
	case total >= 1200:
		return "B"
	case total >= 600:
		return "C"
	case total >= 120:
		return "D"
	default:
		return "E"
	}
}

// Earned is the reward proposed for a reported session.
func Earned(minutes int64, firstToday bool) int64 {
	if firstToday && minutes >= bonusMinMinutes {
		return minutes + firstOfDayBonus
	}
	return minutes
}
