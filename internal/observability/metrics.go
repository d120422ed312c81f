package observability

const (
	MUsecaseRequests     MetricKey = "usecase_requests_total"
	MUsecaseDuration     MetricKey = "usecase_duration_seconds"
	MHTTPRequests        MetricKey = "http_requests_total"
	MHTTPRequestDuration MetricKey = "http_request_duration_seconds"

	MRateLimitDecisions     MetricKey = "ratelimit_decisions_total"
	MRateLimitStoreFailures MetricKey = "ratelimit_store_failures_total"
	MStockReservations      MetricKey = "stock_reservations_total"
	MWebhookEvents          MetricKey = "webhook_events_total"
	MCouponConsumptions     MetricKey = "coupon_consumptions_total"
	MNotificationsSent      MetricKey = "notifications_sent_total"
	MAbandonedCartsNotified MetricKey = "abandoned_carts_notified_total"
)
