package session

import "math"

// Score 人工打分，每项 1-10，0 表示未打分
type Score struct {
	EdgeAccuracy       int `json:"edgeAccuracy"`
	DetailPreservation int `json:"detailPreservation"`
	Transparency       int `json:"transparency"`
	Overall            int `json:"overall"`
}

const MaxScore = 10

// WithOverall 计算 overall：已打分项的平均值四舍五入，全部未打分时为 0
func (s Score) WithOverall() Score {
	sum, n := 0, 0
	for _, v := range []int{s.EdgeAccuracy, s.DetailPreservation, s.Transparency} {
		if v > 0 {
			sum += v
			n++
		}
	}
	s.Overall = 0
	if n > 0 {
		s.Overall = int(math.Round(float64(sum) / float64(n)))
	}
	return s
}

func (s Score) Valid() bool {
	for _, v := range []int{s.EdgeAccuracy, s.DetailPreservation, s.Transparency} {
		if v < 0 || v > MaxScore {
			return false
		}
	}
	return true
}
