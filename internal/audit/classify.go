package audit

import (
	"net/http"
	"regexp"
	"strings"
)

// Classification is substring-based on purpose: it must work for arbitrary
// routes without coupling to handler code, and ambiguous nested paths resolve
// to whichever rule runs first in the fixed order below.

// actionPathRules are checked before the HTTP method mapping, in order.
var actionPathRules = []struct {
	substr string
	kind   ActionKind
}{
	{"/login", ActionLogin},
	{"/logout", ActionLogout},
	{"/password-reset", ActionPasswordReset},
	{"/reports", ActionExport},
	{"/export", ActionExport},
}

// resourcePathRules map the first matching path substring to a resource kind.
var resourcePathRules = []struct {
	substr string
	kind   ResourceKind
}{
	{"users", ResourceUser},
	{"doctors", ResourceDoctor},
	{"patients", ResourcePatient},
	{"appointments", ResourceAppointment},
	{"prescriptions", ResourcePrescription},
	{"medical-records", ResourceMedicalRecord},
	{"billing", ResourceBilling},
	{"invoices", ResourceBilling},
	{"test-results", ResourceTestResult},
	{"messages", ResourceMessage},
	{"reports", ResourceReport},
	{"departments", ResourceDepartment},
}

var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ClassifyAction derives an action kind from method and path. Path rules win
// over the method mapping so that, for example, GET /api/auth/login is LOGIN
// rather than READ. Total: always returns a member of the enumeration.
func ClassifyAction(method, path string) ActionKind {
	lower := strings.ToLower(path)
	for _, rule := range actionPathRules {
		if strings.Contains(lower, rule.substr) {
			return rule.kind
		}
	}
	switch method {
	case http.MethodPost:
		return ActionCreate
	case http.MethodGet:
		return ActionRead
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	default:
		return ActionUnknown
	}
}

// ClassifyResource derives a resource kind from the path. Only the first
// matching rule applies; paths matching nothing are SYSTEM.
func ClassifyResource(path string) ResourceKind {
	lower := strings.ToLower(path)
	for _, rule := range resourcePathRules {
		if strings.Contains(lower, rule.substr) {
			return rule.kind
		}
	}
	return ResourceSystem
}

// ExtractResourceID returns the first UUID-shaped token embedded in the path,
// or the empty string. Non-UUID identifiers (numeric IDs) are deliberately not
// extracted; downstream consumers tolerate an absent resource id.
func ExtractResourceID(path string) string {
	return uuidPattern.FindString(path)
}
