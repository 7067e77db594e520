// Package features maps raw telemetry field bags onto the fixed-shape
// numeric vector the classifier and scorer consume.
package features

// CanonicalNames is the fixed, ordered feature schema. The names follow the
// CICIDS2017 flow-statistics convention used by the telemetry agents and the
// simulated SIEM source.
var CanonicalNames = []string{
	"Flow Duration", "Total Fwd Packets", "Total Backward Packets",
	"Total Length of Fwd Packets", "Total Length of Bwd Packets",
	"Fwd Packet Length Max", "Fwd Packet Length Min", "Fwd Packet Length Mean",
	"Fwd Packet Length Std", "Bwd Packet Length Max", "Bwd Packet Length Min",
	"Bwd Packet Length Mean", "Bwd Packet Length Std", "Flow Bytes/s",
	"Flow Packets/s", "Flow IAT Mean", "Flow IAT Std", "Flow IAT Max",
	"Flow IAT Min", "Fwd IAT Total", "Fwd IAT Mean", "Fwd IAT Std",
	"Fwd IAT Max", "Fwd IAT Min", "Bwd IAT Total", "Bwd IAT Mean",
	"Bwd IAT Std", "Bwd IAT Max", "Bwd IAT Min", "Fwd PSH Flags",
	"Bwd PSH Flags", "Fwd URG Flags", "Bwd URG Flags", "Fwd Header Length",
	"Bwd Header Length", "Fwd Packets/s", "Bwd Packets/s", "Min Packet Length",
	"Max Packet Length", "Packet Length Mean", "Packet Length Std",
	"Packet Length Variance", "FIN Flag Count", "SYN Flag Count",
	"RST Flag Count", "PSH Flag Count", "ACK Flag Count", "URG Flag Count",
	"CWE Flag Count", "ECE Flag Count", "Down/Up Ratio", "Average Packet Size",
	"Avg Fwd Segment Size", "Avg Bwd Segment Size",
	"Fwd Avg Bytes/Bulk", "Fwd Avg Packets/Bulk", "Fwd Avg Bulk Rate",
	"Bwd Avg Bytes/Bulk", "Bwd Avg Packets/Bulk", "Bwd Avg Bulk Rate",
	"Subflow Fwd Packets", "Subflow Fwd Bytes",
}

// Normalizer projects an arbitrary field bag onto the canonical order.
type Normalizer struct {
	names []string
	index map[string]int
}

// NewNormalizer builds a normalizer for the given ordered feature names.
func NewNormalizer(names []string) *Normalizer {
	idx := make(map[string]int, len(names))
	for i, name := range names {
		idx[name] = i
	}
	return &Normalizer{names: names, index: idx}
}

// Default returns a normalizer over the canonical CICIDS2017-style schema.
func Default() *Normalizer {
	return NewNormalizer(CanonicalNames)
}

// Names returns the canonical ordered feature names.
func (n *Normalizer) Names() []string {
	out := make([]string, len(n.names))
	copy(out, n.names)
	return out
}

// Normalize maps a field bag onto the fixed-length vector. Absent features
// default to 0 and extra fields are ignored — telemetry sources are
// heterogeneous, so this is deliberately permissive. The second return value
// is the number of expected features the input actually carried; callers use
// it to distinguish rich telemetry from metadata-only samples.
func (n *Normalizer) Normalize(fields map[string]float64) ([]float64, int) {
	vec := make([]float64, len(n.names))
	matched := 0
	for name, value := range fields {
		if i, ok := n.index[name]; ok {
			vec[i] = value
			matched++
		}
	}
	return vec, matched
}

// Mean returns the arithmetic mean of the vector. Callers must guard the
// empty vector; Mean returns 0 for it.
func Mean(vec []float64) float64 {
	if len(vec) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vec {
		sum += v
	}
	return sum / float64(len(vec))
}

// Max returns the largest value in the vector, or 0 for an empty vector.
func Max(vec []float64) float64 {
	if len(vec) == 0 {
		return 0
	}
	max := vec[0]
	for _, v := range vec[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Variance returns the population variance of the vector.
func Variance(vec []float64) float64 {
	if len(vec) == 0 {
		return 0
	}
	mean := Mean(vec)
	var acc float64
	for _, v := range vec {
		d := v - mean
		acc += d * d
	}
	return acc / float64(len(vec))
}
