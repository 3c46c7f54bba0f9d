package internaldefs

import (
	"github.com/schoolnotes/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authcore.MetricRegisterSuccess, Name: "authcore_register_success_total", Help: "Successful registrations."},
	{ID: authcore.MetricRegisterDuplicate, Name: "authcore_register_duplicate_total", Help: "Registrations rejected because the email or username is taken."},
	{ID: authcore.MetricRegisterInvalid, Name: "authcore_register_invalid_total", Help: "Registrations rejected by input validation."},
	{ID: authcore.MetricRegisterRateLimited, Name: "authcore_register_rate_limited_total", Help: "Registrations rejected by the throttle."},
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Logins rejected for invalid credentials."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Logins rejected by the throttle."},
	{ID: authcore.MetricLoginSuspended, Name: "authcore_login_suspended_total", Help: "Logins rejected because the account is suspended."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful token refreshes."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: authcore.MetricRefreshRateLimited, Name: "authcore_refresh_rate_limited_total", Help: "Refreshes rejected by the throttle."},
	{ID: authcore.MetricResolveSuccess, Name: "authcore_resolve_success_total", Help: "Access tokens resolved to an account."},
	{ID: authcore.MetricResolveFailure, Name: "authcore_resolve_failure_total", Help: "Access tokens rejected."},
	{ID: authcore.MetricPasswordRehash, Name: "authcore_password_rehash_total", Help: "Password hashes upgraded on login."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricAccountStatusChange, Name: "authcore_account_status_change_total", Help: "Account status changes."},
	{ID: authcore.MetricAccountRoleChange, Name: "authcore_account_role_change_total", Help: "Account role changes."},
	{ID: authcore.MetricProfileUpdate, Name: "authcore_profile_update_total", Help: "Account profile updates."},
	{ID: authcore.MetricInternalError, Name: "authcore_internal_error_total", Help: "Operations that failed with an internal error."},
}

var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricResolveLatency, Name: "authcore_resolve_latency_seconds", Help: "ResolveCaller latency."},
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// BucketCount is the number of histogram buckets including +Inf.
const BucketCount = len(authcore.HistogramBounds)

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, 0, BucketCount-1)
	for _, b := range authcore.HistogramBounds[:BucketCount-1] {
		out = append(out, b)
	}
	return out
}

// HistogramBoundSuffix names each bucket in instrument names that cannot
// carry labels.
var HistogramBoundSuffix = [BucketCount]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
