// Package validation validates untrusted input, scans it for attack
// signatures and sanitizes it before the application uses it.
//
// ValidateInput runs in three passes:
//
//  1. The Schema parses the input. Struct schemas use go-playground/validator
//     tags, JSON Schema documents are compiled with santhosh-tekuri/jsonschema.
//     Shape errors come back as "path: message" strings with low risk.
//  2. Every string leaf is passed to the rule table (DetectThreats). Values
//     with xss, sql_injection or command_injection are rejected with a generic
//     "Malicious input detected" error and a malicious_request audit event.
//  3. The parsed value is copied with every string sanitized: trimmed, NFC
//     normalized, stripped of control and zero-width code points and HTML
//     escaped (or, with AllowHTML, stripped of scripts and dangerous tags).
//
// Any internal failure fails closed with "Validation system error".
//
//	v := validation.New(validation.Config{Auditor: auditLogger, Logger: logger})
//
//	type createItem struct {
//	    Name string `json:"name" validate:"required,safe_string"`
//	    Path string `json:"path" validate:"omitempty,safe_path"`
//	}
//
//	res := v.ValidateInput(ctx, body, validation.NewStructSchema[createItem](), nil)
//	if !res.Success {
//	    return res.Errors
//	}
//	item := res.Sanitized.(createItem)
//
// The default rule table rejects SQL keywords and shell metacharacters even
// in free text. Pass Config.Rules to narrow it.
package validation
