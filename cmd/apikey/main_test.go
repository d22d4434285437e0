package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/testutil"
)

func TestGenerateKey(t *testing.T) {
	mockStore := new(testutil.MockStore)
	mockStore.On("CreateAPIKey", mock.AnythingOfType("*domain.APIKey")).Return(nil)

	out := &bytes.Buffer{}
	err := generateKey(mockStore, "test-key", 30, out)

	if err != nil {
		t.Fatalf("generateKey failed: %v", err)
	}

	if !bytes.Contains(out.Bytes(), []byte("API Key Created Successfully!")) {
		t.Errorf("expected success message in output")
	}
	if !bytes.Contains(out.Bytes(), []byte("lmn_")) {
		t.Errorf("expected key value in output")
	}
	mockStore.AssertExpectations(t)
}

func TestListKeys(t *testing.T) {
	mockStore := new(testutil.MockStore)
	keys := []domain.APIKey{
		{ID: "id1", Name: "name1", KeyPrefix: "lmn_abcd", Active: true},
		{ID: "id2", Name: "name2", KeyPrefix: "lmn_wxyz", Active: false},
	}
	mockStore.On("ListAPIKeys").Return(keys, nil)

	out := &bytes.Buffer{}
	err := listKeys(mockStore, out)

	if err != nil {
		t.Fatalf("listKeys failed: %v", err)
	}

	if !bytes.Contains(out.Bytes(), []byte("id1")) {
		t.Errorf("expected key ID in output")
	}
	if !bytes.Contains(out.Bytes(), []byte("revoked")) {
		t.Errorf("expected revoked status in output")
	}
	mockStore.AssertExpectations(t)
}

func TestRevokeKey(t *testing.T) {
	mockStore := new(testutil.MockStore)
	mockStore.On("RevokeAPIKey", "id1").Return(nil)

	out := &bytes.Buffer{}
	err := revokeKey(mockStore, "id1", out)

	if err != nil {
		t.Fatalf("revokeKey failed: %v", err)
	}

	if !bytes.Contains(out.Bytes(), []byte("revoked")) {
		t.Errorf("expected revocation message in output")
	}
	mockStore.AssertExpectations(t)
}

func TestRunCommand(t *testing.T) {
	mockStore := new(testutil.MockStore)
	out := &bytes.Buffer{}

	err := run([]string{"apikey"}, out, mockStore)
	if err == nil || err.Error() != "expected 'create', 'list' or 'revoke' subcommands" {
		t.Errorf("Expected less than 2 args error, got: %v", err)
	}

	err = run([]string{"apikey", "unknown"}, out, mockStore)
	if err == nil || err.Error() != "unknown subcommand: unknown" {
		t.Errorf("Expected unknown subcommand error, got: %v", err)
	}

	// Test create path
	mockStore.On("CreateAPIKey", mock.AnythingOfType("*domain.APIKey")).Return(nil).Once()
	err = run([]string{"apikey", "create", "-name", "test", "-days", "30"}, out, mockStore)
	if err != nil {
		t.Errorf("Unexpected error for create: %v", err)
	}

	// Test list path
	mockStore.On("ListAPIKeys").Return([]domain.APIKey{}, nil).Once()
	err = run([]string{"apikey", "list"}, out, mockStore)
	if err != nil {
		t.Errorf("Unexpected error for list: %v", err)
	}

	// Test revoke path
	mockStore.On("RevokeAPIKey", "id1").Return(nil).Once()
	err = run([]string{"apikey", "revoke", "-id", "id1"}, out, mockStore)
	if err != nil {
		t.Errorf("Unexpected error for revoke: %v", err)
	}

	// Revoke without an ID
	err = run([]string{"apikey", "revoke"}, out, mockStore)
	if err == nil {
		t.Error("Expected error for revoke without id")
	}
	mockStore.AssertExpectations(t)
}
