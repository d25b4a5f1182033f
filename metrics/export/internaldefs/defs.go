package internaldefs

import (
	"github.com/leafcart/storeauth"
)

// Def names one Engine metric.
type Def struct {
	ID   storeauth.MetricID
	Name string
	Help string
}

// Namespace prefixes every exported metric name.
const Namespace = "storeauth_"

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = Namespace + "audit_dropped_total"

// Counters lists every exported counter in output order.
var Counters = []Def{
	{storeauth.MetricLoginSuccess, Namespace + "login_success_total", "Logins that issued an access token."},
	{storeauth.MetricLoginFailure, Namespace + "login_failure_total", "Logins rejected for bad credentials."},
	{storeauth.MetricLoginRateLimited, Namespace + "login_rate_limited_total", "Logins refused while the account or address was blocked."},
	{storeauth.MetricRegisterSuccess, Namespace + "register_success_total", "Created customer accounts."},
	{storeauth.MetricRegisterDuplicate, Namespace + "register_duplicate_total", "Registrations for an email that is already taken."},
	{storeauth.MetricRegisterInvalid, Namespace + "register_invalid_total", "Registrations rejected by input validation."},
	{storeauth.MetricTokenRejected, Namespace + "token_rejected_total", "Access tokens that failed verification."},
	{storeauth.MetricSessionRejected, Namespace + "session_rejected_total", "Valid tokens whose session was revoked or expired."},
	{storeauth.MetricSessionCreated, Namespace + "session_created_total", "Sessions started by login."},
	{storeauth.MetricLogout, Namespace + "logout_total", "Single-session logouts."},
	{storeauth.MetricLogoutAll, Namespace + "logout_all_total", "Logout-all operations."},
	{storeauth.MetricPasswordChangeSuccess, Namespace + "password_change_success_total", "Completed password changes."},
	{storeauth.MetricPasswordChangeInvalidOld, Namespace + "password_change_invalid_old_total", "Password changes with a wrong current password."},
	{storeauth.MetricCSRFIssued, Namespace + "csrf_issued_total", "Issued CSRF tokens."},
	{storeauth.MetricCSRFRejected, Namespace + "csrf_rejected_total", "CSRF tokens that failed validation."},
}

// Histograms lists every exported latency histogram.
var Histograms = []Def{
	{storeauth.MetricAuthenticateLatency, Namespace + "authenticate_latency_seconds", "Authenticate latency."},
	{storeauth.MetricLoginLatency, Namespace + "login_latency_seconds", "Login latency, including password hashing."},
}

// BucketCount matches the Engine's fixed histogram layout.
const BucketCount = 8

// Bounds are the upper bucket bounds in seconds, as Prometheus le labels.
var Bounds = [BucketCount]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// BoundSuffixes are Bounds made safe for instrument names.
var BoundSuffixes = [BucketCount]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// Cumulative pads or truncates raw per-bucket counts to BucketCount and
// returns running totals.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
