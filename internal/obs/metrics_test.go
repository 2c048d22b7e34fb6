package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInitRegistersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	Init(reg)

	// Label vectors only gather once a child exists.
	Decision("granted", "")
	AuditAppend("success")
	TokenVerification("valid")
	MFAChallenge("ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{
		"opsgate_access_decisions_total",
		"opsgate_audit_appends_total",
		"opsgate_audit_append_failures_total",
		"opsgate_token_verifications_total",
		"opsgate_mfa_challenges_total",
	} {
		if !found[name] {
			t.Errorf("metric %s not gathered", name)
		}
	}
}
