package wsman

import "github.com/gitpod-io/gitpod-sub012/internal/core"

// Classes converts the advertised workspace classes into their stored form.
func (r *DescribeClusterResponse) Classes() []core.WorkspaceClass {
	if r == nil {
		return nil
	}
	out := make([]core.WorkspaceClass, 0, len(r.WorkspaceClasses))
	for _, c := range r.WorkspaceClasses {
		if c == nil {
			continue
		}
		out = append(out, core.WorkspaceClass{
			ID:               c.ID,
			DisplayName:      c.DisplayName,
			Description:      c.Description,
			CreditsPerMinute: c.CreditsPerMinute,
		})
	}
	return out
}
