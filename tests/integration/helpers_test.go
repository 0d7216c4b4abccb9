//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bissquit/alert-relay/internal/configcontrol"
	"github.com/bissquit/alert-relay/internal/domain"
	"github.com/bissquit/alert-relay/internal/testutil"
)

var seq atomic.Int64

// uniqueID returns an id unique within the test run.
func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, seq.Add(1))
}

func createUserProfile(t *testing.T, userID, phone, email string) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO user_profiles (id, phone, email) VALUES ($1, $2, $3)`,
		userID, phone, email,
	)
	require.NoError(t, err)
}

func createContact(t *testing.T, userID, contactID, phone string) {
	t.Helper()
	_, err := testDB.Exec(context.Background(),
		`INSERT INTO secondary_contacts (id, user_id, phone) VALUES ($1, $2, $3)`,
		contactID, userID, phone,
	)
	require.NoError(t, err)
}

func configsPath(vehicleID, contactID string) string {
	return fmt.Sprintf("/api/v1/vehicles/%s/contacts/%s/configs", vehicleID, contactID)
}

func patchConfigs(t *testing.T, client *testutil.Client, vehicleID, contactID string, body any) configcontrol.PatchResult {
	t.Helper()
	resp, err := client.PATCH(configsPath(vehicleID, contactID), body)
	require.NoError(t, err)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch configs: status=%d body=%s", resp.StatusCode, testutil.ReadBody(t, resp))
	}

	var result struct {
		Data configcontrol.PatchResult `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

func getConfigs(t *testing.T, client *testutil.Client, vehicleID, contactID string) []domain.NotificationConfig {
	t.Helper()
	resp, err := client.GET(configsPath(vehicleID, contactID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data []domain.NotificationConfig `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}
