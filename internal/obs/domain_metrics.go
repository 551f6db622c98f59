package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PaymentCreateTotal counts payment session creation attempts by provider and result.
	PaymentCreateTotal *prometheus.CounterVec
	// PaymentPollTotal counts status-poll runs by trigger (widget, recovery, reconcile) and terminal phase.
	PaymentPollTotal *prometheus.CounterVec
	// PaymentPollAttempts records how many status requests a poll run needed before terminating.
	PaymentPollAttempts *prometheus.HistogramVec
	// PaymentWebhookTotal counts inbound gateway webhook processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// TelegramDeliveriesTotal tracks Telegram notification delivery outcomes.
	TelegramDeliveriesTotal *prometheus.CounterVec
	// ContactSubmissionsTotal counts contact form submissions by outcome.
	ContactSubmissionsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PaymentCreateTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_create_total",
			Help:      "Count of payment session creation outcomes.",
		}, []string{"provider", "result"})
		PaymentPollTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_poll_total",
			Help:      "Count of status poll runs by trigger and terminal phase.",
		}, []string{"trigger", "phase"})
		PaymentPollAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_poll_attempts",
			Help:      "Status requests needed before a poll run terminated.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 30},
		}, []string{"trigger"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed gateway webhooks by outcome.",
		}, []string{"provider", "result"})
		TelegramDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegram_deliveries_total",
			Help:      "Count of Telegram notification delivery outcomes.",
		}, []string{"result"})
		ContactSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contact_submissions_total",
			Help:      "Count of contact form submissions by outcome.",
		}, []string{"result"})

		mustRegisterCollector(reg, PaymentCreateTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentCreateTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentPollTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentPollTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentPollAttempts, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				PaymentPollAttempts = v
			}
		})
		mustRegisterCollector(reg, PaymentWebhookTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentWebhookTotal = v
			}
		})
		mustRegisterCollector(reg, TelegramDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TelegramDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, ContactSubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ContactSubmissionsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
