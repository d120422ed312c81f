package ratelimit

import "strings"

// Category buckets endpoints into independent rate-limit classes. Auth and
// payment carry stricter caps than product browsing.
type Category string

const (
	CategoryAuth     Category = "auth"
	CategoryAdmin    Category = "admin"
	CategoryPayment  Category = "payment"
	CategoryProducts Category = "products"
	CategoryOrders   Category = "orders"
	CategoryDefault  Category = "default"
)

// CategoryFor maps a request path to its rate-limit category by prefix.
func CategoryFor(path string) Category {
	switch {
	case strings.HasPrefix(path, "/api/auth/"):
		return CategoryAuth
	case strings.HasPrefix(path, "/api/admin/"):
		return CategoryAdmin
	case strings.HasPrefix(path, "/api/payment/"):
		return CategoryPayment
	case strings.HasPrefix(path, "/api/products/"):
		return CategoryProducts
	case strings.HasPrefix(path, "/api/orders/"):
		return CategoryOrders
	default:
		return CategoryDefault
	}
}

// Exempt reports whether the path bypasses rate limiting entirely.
func Exempt(path string) bool {
	return path == "/" ||
		path == "/health" ||
		path == "/metrics" ||
		path == "/favicon.ico" ||
		strings.HasPrefix(path, "/static/")
}
