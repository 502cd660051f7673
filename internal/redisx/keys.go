package redisx

import "time"

const (
	// Cart per owner: cart:{c:customerId | s:sessionId} -> JSON lines
	KeyCart = "cart:%s"

	// Checkout generation per owner, bumped every time a cart is cleared: cart:gen:{owner}
	KeyCartGen = "cart:gen:%s"

	// Live confirmation code per order: auth:token:{order_id} -> JSON record
	KeyAuthToken = "auth:token:%s"

	// Checkout idempotency: idem:checkout:{hash} -> order_id (or "pending")
	KeyIdemCheckout = "idem:checkout:%s"

	// Cache status order: order_status:{order_id} -> {"status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event / inbound message processing: dedup:{service}:{id}
	KeyDedup = "dedup:%s:%s"

	// Current exchange rate cache
	KeyRateVES = "settings:tasa_ves"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLRateCache   = 10 * time.Minute
)
