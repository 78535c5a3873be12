package domain

import (
	"encoding/json"
	"reflect"
)

// PolicyTypeServiceControl is the only policy type managed by this system.
const PolicyTypeServiceControl = "SERVICE_CONTROL_POLICY"

// AutoAttachedPolicy is the AWS managed policy the provider attaches to every
// new organizational unit, whatever the spec's default policy is.
const AutoAttachedPolicy = "FullAWSAccess"

// PolicyDocumentVersion is the IAM policy language version used for rendered documents.
const PolicyDocumentVersion = "2012-10-17"

// Policy is a live service control policy.
type Policy struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Content     string   `json:"content,omitempty"`
	Type        string   `json:"type"`
	AWSManaged  bool     `json:"aws_managed"`
	Targets     []string `json:"targets,omitempty"` // target ids the policy is attached to
}

// PolicyDocument is the permission document of a service control policy.
type PolicyDocument struct {
	Version   string            `json:"Version"`
	Statement []PolicyStatement `json:"Statement"`
}

// PolicyStatement is one statement of a PolicyDocument.
type PolicyStatement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

// RenderPolicyDocument renders the document for a spec policy.
// The resource is always the "*" wildcard.
func RenderPolicyDocument(p SpecPolicy) (string, error) {
	doc := PolicyDocument{
		Version: PolicyDocumentVersion,
		Statement: []PolicyStatement{{
			Effect:   p.Effect,
			Action:   p.Actions,
			Resource: "*",
		}},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EquivalentDocuments reports whether two JSON policy documents decode to the
// same value. Whitespace and key order do not matter.
func EquivalentDocuments(a, b string) bool {
	var va, vb any
	if err := json.Unmarshal([]byte(a), &va); err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(b), &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}
