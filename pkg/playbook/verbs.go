package playbook

import "github.com/openfroyo/playbook-resource/pkg/resource"

// Check answers the check step. Puts are the only source of versions, so
// there is never anything new to report.
func Check(*resource.CheckRequest) []resource.Version {
	return []resource.Version{}
}

// In answers the implicit get after a put by echoing the version.
func In(req *resource.InRequest) *resource.Response {
	return &resource.Response{
		Version:  req.Version,
		Metadata: resource.Metadata{},
	}
}
