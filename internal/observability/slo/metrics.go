// Package slo tracks delivery service level objectives.
package slo

import (
	"sort"

	"school-notify/internal/domain/entity"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Delivery targets per queued channel.
const (
	// DeliverySuccessSLO is the minimum ratio of delivered attempts over all
	// terminal outcomes (delivered, failed, bounced).
	DeliverySuccessSLO = 0.99

	// ComplaintRateSLO is the maximum ratio of complaints over delivered
	// email.
	ComplaintRateSLO = 0.001
)

// These gauges are refreshed by the worker's delivery_slo sweep from the
// delivery log window.
var (
	DeliverySuccessRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slo_delivery_success_ratio",
			Help: "Delivered over terminal outcomes in the SLO window (0-1), target: 0.99",
		},
		[]string{"channel"},
	)

	ComplaintRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slo_complaint_ratio",
			Help: "Complaints over delivered messages in the SLO window (0-1), target: 0.001",
		},
		[]string{"channel"},
	)

	// BreachedChannels is 1 for each channel currently outside its target.
	BreachedChannels = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slo_delivery_breached",
			Help: "1 when the channel misses a delivery SLO in the current window",
		},
		[]string{"channel"},
	)
)

// ChannelReport is the SLO evaluation of one channel.
type ChannelReport struct {
	Channel        entity.Channel
	SuccessRatio   float64
	ComplaintRatio float64
	Breached       bool
}

// Evaluate computes the ratios for every channel with terminal outcomes in
// events. Channels without any terminal outcome are omitted. The result is
// sorted by channel.
func Evaluate(events map[entity.Channel]map[entity.DeliveryEventKind]int64) []ChannelReport {
	reports := make([]ChannelReport, 0, len(events))
	for ch, kinds := range events {
		delivered := kinds[entity.EventDelivered]
		terminal := delivered + kinds[entity.EventFailed] + kinds[entity.EventBounced]
		if terminal == 0 {
			continue
		}
		r := ChannelReport{
			Channel:      ch,
			SuccessRatio: float64(delivered) / float64(terminal),
		}
		if delivered > 0 {
			r.ComplaintRatio = float64(kinds[entity.EventComplained]) / float64(delivered)
		}
		r.Breached = r.SuccessRatio < DeliverySuccessSLO || r.ComplaintRatio > ComplaintRateSLO
		reports = append(reports, r)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Channel < reports[j].Channel })
	return reports
}

// Update evaluates events and publishes the result. It returns the number
// of breached channels.
func Update(events map[entity.Channel]map[entity.DeliveryEventKind]int64) int {
	breached := 0
	for _, r := range Evaluate(events) {
		ch := string(r.Channel)
		DeliverySuccessRatio.WithLabelValues(ch).Set(r.SuccessRatio)
		ComplaintRatio.WithLabelValues(ch).Set(r.ComplaintRatio)
		if r.Breached {
			breached++
			BreachedChannels.WithLabelValues(ch).Set(1)
		} else {
			BreachedChannels.WithLabelValues(ch).Set(0)
		}
	}
	return breached
}
