/*
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package fhirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPValidator validates resources by POSTing them to a FHIR
// validator server's $validate operation and parsing the returned
// OperationOutcome, mirroring validators/async_fhir_validator.py's
// validate_fhir_resource.
type HTTPValidator struct {
	ServerURL string
	Client    HttpRequestDoer
}

// Validate POSTs resource to {ServerURL}/{resourceType}/$validate and,
// when the returned OperationOutcome has at least one error or fatal
// issue, returns all of its issues (any severity) as Issues. A clean
// validation (no error-severity issues) returns a nil slice.
func (v *HTTPValidator) Validate(ctx context.Context, resource map[string]any) ([]Issue, error) {
	resourceType, _ := resource["resourceType"].(string)
	if resourceType == "" {
		return nil, fmt.Errorf("fhirclient: resource missing resourceType")
	}

	body, err := json.Marshal(resource)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/$validate", v.ServerURL, resourceType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", FhirJsonMediaType)
	req.Header.Set("Accept", FhirJsonMediaType)

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fhirclient: validation request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var outcome OperationOutcomeError
	if err := json.Unmarshal(respBody, &outcome); err != nil {
		// A non-OperationOutcome response from the validator is treated
		// as "no opinion", not as a validation failure.
		return nil, nil
	}
	if !outcome.IsOperationOutcome() || !outcome.ContainsError() {
		return nil, nil
	}
	return outcome.Issues(), nil
}
