package slo

import (
	"testing"

	"school-notify/internal/domain/entity"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSLOTargetsAreReasonable(t *testing.T) {
	assert.Greater(t, DeliverySuccessSLO, 0.9)
	assert.LessOrEqual(t, DeliverySuccessSLO, 1.0)
	assert.Greater(t, ComplaintRateSLO, 0.0)
	assert.Less(t, ComplaintRateSLO, 0.01)
}

func TestEvaluate(t *testing.T) {
	events := map[entity.Channel]map[entity.DeliveryEventKind]int64{
		entity.ChannelEmail: {
			entity.EventDelivered:  1000,
			entity.EventBounced:    5,
			entity.EventComplained: 2,
			entity.EventOpened:     300,
		},
		entity.ChannelPush: {
			entity.EventDelivered: 90,
			entity.EventFailed:    10,
		},
		entity.ChannelSMS: {
			entity.EventDeferred: 4,
		},
	}

	got := Evaluate(events)
	want := []ChannelReport{
		{Channel: entity.ChannelEmail, SuccessRatio: 1000.0 / 1005.0, ComplaintRatio: 0.002, Breached: true},
		{Channel: entity.ChannelPush, SuccessRatio: 0.9, Breached: true},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("Evaluate mismatch (-want +got):\n%s", diff)
	}
}

func TestEvaluate_HealthyChannel(t *testing.T) {
	got := Evaluate(map[entity.Channel]map[entity.DeliveryEventKind]int64{
		entity.ChannelPush: {entity.EventDelivered: 999, entity.EventFailed: 1},
	})

	assert.Len(t, got, 1)
	assert.False(t, got[0].Breached)
	assert.InDelta(t, 0.999, got[0].SuccessRatio, 1e-9)
}

func TestUpdate_PublishesGauges(t *testing.T) {
	DeliverySuccessRatio.Reset()
	ComplaintRatio.Reset()
	BreachedChannels.Reset()

	breached := Update(map[entity.Channel]map[entity.DeliveryEventKind]int64{
		entity.ChannelEmail: {entity.EventDelivered: 50, entity.EventBounced: 50},
		entity.ChannelPush:  {entity.EventDelivered: 100},
	})

	assert.Equal(t, 1, breached)
	assert.InDelta(t, 0.5, testutil.ToFloat64(DeliverySuccessRatio.WithLabelValues("email")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(DeliverySuccessRatio.WithLabelValues("push")))
	assert.Equal(t, 1.0, testutil.ToFloat64(BreachedChannels.WithLabelValues("email")))
	assert.Equal(t, 0.0, testutil.ToFloat64(BreachedChannels.WithLabelValues("push")))
}

func TestUpdate_Empty(t *testing.T) {
	assert.Equal(t, 0, Update(nil))
}
