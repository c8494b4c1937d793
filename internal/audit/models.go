package audit

import "time"

// ActionKind is the closed set of action classifications for audit entries.
type ActionKind string

const (
	ActionCreate        ActionKind = "CREATE"
	ActionRead          ActionKind = "READ"
	ActionUpdate        ActionKind = "UPDATE"
	ActionDelete        ActionKind = "DELETE"
	ActionLogin         ActionKind = "LOGIN"
	ActionLogout        ActionKind = "LOGOUT"
	ActionPasswordReset ActionKind = "PASSWORD_RESET"
	ActionAccessDenied  ActionKind = "ACCESS_DENIED"
	ActionExport        ActionKind = "EXPORT"
	ActionUnknown       ActionKind = "UNKNOWN"
)

// ResourceKind is the coarse category of data acted upon, inferred from URL shape.
type ResourceKind string

const (
	ResourceUser          ResourceKind = "USER"
	ResourceDoctor        ResourceKind = "DOCTOR"
	ResourcePatient       ResourceKind = "PATIENT"
	ResourceAppointment   ResourceKind = "APPOINTMENT"
	ResourcePrescription  ResourceKind = "PRESCRIPTION"
	ResourceMedicalRecord ResourceKind = "MEDICAL_RECORD"
	ResourceBilling       ResourceKind = "BILLING"
	ResourceTestResult    ResourceKind = "TEST_RESULT"
	ResourceMessage       ResourceKind = "MESSAGE"
	ResourceReport        ResourceKind = "REPORT"
	ResourceDepartment    ResourceKind = "DEPARTMENT"
	ResourceSystem        ResourceKind = "SYSTEM"
)

// Entry is an immutable record of one completed HTTP transaction (or one
// out-of-band action recorded through the manual path). It is constructed
// fully in memory before any persistence attempt; persistence failure never
// reaches the code that produced it.
type Entry struct {
	SubjectID   string        `json:"subject_id,omitempty"` // empty for anonymous actions
	SubjectName string        `json:"subject_name"`
	Action      ActionKind    `json:"action"`
	Resource    ResourceKind  `json:"resource"`
	ResourceID  string        `json:"resource_id,omitempty"` // UUID extracted from path, best effort
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	IP          string        `json:"ip"`
	UserAgent   string        `json:"user_agent"`
	StatusCode  int           `json:"status_code"`
	Duration    time.Duration `json:"duration"`
	RequestBody any           `json:"request_body,omitempty"` // redacted, mutating methods only
	ErrMessage  string        `json:"error_message,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Failed reports whether the recorded transaction ended in an error status.
func (e Entry) Failed() bool { return e.StatusCode >= 400 }
