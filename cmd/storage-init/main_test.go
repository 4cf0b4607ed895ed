package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

func TestHasErrorCode(t *testing.T) {
	exists := &azcore.ResponseError{ErrorCode: string(aztables.TableAlreadyExists), StatusCode: 409}
	if !hasErrorCode(fmt.Errorf("create: %w", exists), string(aztables.TableAlreadyExists)) {
		t.Fatalf("expected wrapped response error to match")
	}
	if hasErrorCode(exists, queueAlreadyExists) {
		t.Fatalf("expected different code not to match")
	}
	if hasErrorCode(errors.New("boom"), queueAlreadyExists) {
		t.Fatalf("expected plain error not to match")
	}
}
