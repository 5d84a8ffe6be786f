package workflow

// OpenThreshold is the number of admin approvals needed before a proposal
// may be opened for voting: every current admin.
func OpenThreshold(totalAdmins int) int {
	return max(totalAdmins, 1)
}

// ApproveThreshold resolves the configured consensus rule for approve.
// configured <= 0 means every current admin, matching OpenThreshold.
// A positive value is capped at totalAdmins so demoting admins can never
// make a proposal unapprovable.
func ApproveThreshold(configured, totalAdmins int) int {
	if configured <= 0 {
		return OpenThreshold(totalAdmins)
	}
	if totalAdmins > 0 && configured > totalAdmins {
		return totalAdmins
	}
	return configured
}

// Progress reports how far a proposal is towards a threshold.
type Progress struct {
	ApprovalCount int  `json:"approvalCount"`
	TotalAdmins   int  `json:"totalAdmins"`
	Required      int  `json:"required"`
	AllApproved   bool `json:"allApproved"`
}

func NewProgress(approvals, totalAdmins int) Progress {
	required := OpenThreshold(totalAdmins)
	return Progress{
		ApprovalCount: approvals,
		TotalAdmins:   totalAdmins,
		Required:      required,
		AllApproved:   approvals >= required,
	}
}
