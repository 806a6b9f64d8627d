package middleware

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// counterValue returns the value of the counter in c whose labels match, or 0.
func counterValue(c prometheus.Collector, labels map[string]string) float64 {
	ch := make(chan prometheus.Metric, 64)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if err := m.Write(d); err != nil {
			continue
		}
		matched := 0
		for _, lp := range d.GetLabel() {
			if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
				matched++
			}
		}
		if matched == len(labels) {
			if d.GetCounter() != nil {
				return d.GetCounter().GetValue()
			}
			return float64(d.GetHistogram().GetSampleCount())
		}
	}
	return 0
}
