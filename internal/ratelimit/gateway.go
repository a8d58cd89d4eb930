package ratelimit

import "github.com/plexus-gateway/plexus/internal/gateway"

// LimitsFromIdentity extracts the RPM/TPM limits carried on a resolved
// Identity, ready for Registry.GetOrCreate.
func LimitsFromIdentity(id gateway.Identity) Limits {
	return Limits{RPM: id.RPMLimit, TPM: id.TPMLimit}
}

// CheckRequest runs both the RPM and estimated-TPM checks for one identity's
// limiter, returning the first rejecting Result (RPM is checked before TPM,
// since an RPM rejection should not also burn TPM budget).
func CheckRequest(l *Limiter, estimatedTokens int64) (ok bool, rejected Result) {
	rpm := l.AllowRPM()
	if !rpm.Allowed {
		return false, rpm
	}
	tpm := l.ConsumeTPM(estimatedTokens)
	if !tpm.Allowed {
		return false, tpm
	}
	return true, Result{}
}
