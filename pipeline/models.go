package pipeline

import (
	"errors"
	"strings"
)

// StartRunRequest is the API payload that kicks off a remediation run.
type StartRunRequest struct {
	Domain             string `json:"domain"`
	RepoURL            string `json:"repo_url"`
	BaseBranch         string `json:"base_branch"`
	CompanyDescription string `json:"company_description"`
}

func (r StartRunRequest) Validate() error {
	if strings.TrimSpace(r.Domain) == "" {
		return errors.New("domain is required")
	}
	if strings.TrimSpace(r.RepoURL) == "" {
		return errors.New("repo_url is required")
	}
	return nil
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
