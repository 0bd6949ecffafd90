// SPDX-License-Identifier: Apache-2.0

package schema_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcollector/fieldmigrate/pkg/schema"
)

func TestSanitizeIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		proposed string
		want     string
		wantErr  bool
	}{
		{name: "simple", proposed: "email", want: "email"},
		{name: "lower cases", proposed: "Email_Address", want: "email_address"},
		{name: "digits and underscores", proposed: "phone_2", want: "phone_2"},
		{name: "63 bytes is allowed", proposed: strings.Repeat("a", 63), want: strings.Repeat("a", 63)},
		{name: "64 bytes is rejected", proposed: strings.Repeat("a", 64), wantErr: true},
		{name: "empty", proposed: "", wantErr: true},
		{name: "leading digit", proposed: "1st_field", wantErr: true},
		{name: "spaces", proposed: "full name", wantErr: true},
		{name: "quotes", proposed: `a"b`, wantErr: true},
		{name: "semicolon", proposed: "a;drop", wantErr: true},
		{name: "reserved keyword", proposed: "select", wantErr: true},
		{name: "reserved keyword uppercase", proposed: "SELECT", wantErr: true},
		{name: "non-reserved sql word is fine", proposed: "name", want: "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := schema.SanitizeIdentifier(tt.proposed)
			if tt.wantErr {
				var invalid schema.InvalidIdentifierError
				require.ErrorAs(t, err, &invalid)
				assert.Equal(t, tt.proposed, invalid.Name)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateIdentifierKeepsCase(t *testing.T) {
	t.Parallel()

	// Table names are validated but never rewritten; mixed case stays valid.
	assert.NoError(t, schema.ValidateIdentifier("F_table"))
	assert.Error(t, schema.ValidateIdentifier("F table"))
}
