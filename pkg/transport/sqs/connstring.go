package sqs

import (
	"fmt"
	"strings"
)

// ConnectionString holds the settings parsed from a
// "Region=...;Endpoint=...;AccessKeyId=...;SecretAccessKey=..." string.
// Every key is optional; missing credentials fall back to the default chain.
type ConnectionString struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// ParseConnectionString parses semicolon separated Key=Value pairs. Keys are
// case-insensitive; unknown keys are rejected.
func ParseConnectionString(s string) (ConnectionString, error) {
	var cs ConnectionString

	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return ConnectionString{}, fmt.Errorf("invalid connection string segment %q: expected Key=Value", part)
		}
		value = strings.TrimSpace(value)

		switch strings.ToLower(strings.TrimSpace(key)) {
		case "region":
			cs.Region = value
		case "endpoint":
			cs.Endpoint = value
		case "accesskeyid":
			cs.AccessKeyID = value
		case "secretaccesskey":
			cs.SecretAccessKey = value
		case "sessiontoken":
			cs.SessionToken = value
		default:
			return ConnectionString{}, fmt.Errorf("unknown connection string key %q", key)
		}
	}

	if (cs.AccessKeyID == "") != (cs.SecretAccessKey == "") {
		return ConnectionString{}, fmt.Errorf("AccessKeyId and SecretAccessKey must be set together")
	}
	return cs, nil
}

// hasStaticCredentials reports whether explicit keys were given.
func (cs ConnectionString) hasStaticCredentials() bool {
	return cs.AccessKeyID != "" && cs.SecretAccessKey != ""
}
