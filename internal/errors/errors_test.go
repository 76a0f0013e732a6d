// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if err.Error() != "invalid input" {
		t.Errorf("expected 'invalid input', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindInternal, "failed to validate")
	if wrapped.Error() != "failed to validate: invalid input" {
		t.Errorf("expected 'failed to validate: invalid input', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid input")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindInternal, "failed")
	if GetKind(wrapped) != KindInternal {
		t.Errorf("expected KindInternal, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid input")
	err = Attr(err, "field", "port")
	err = Attr(err, "value", 80)

	attrs := GetAttributes(err)
	if attrs["field"] != "port" {
		t.Errorf("expected port, got %v", attrs["field"])
	}
	if attrs["value"] != 80 {
		t.Errorf("expected 80, got %v", attrs["value"])
	}

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "operation", "start")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["field"] != "port" || allAttrs["operation"] != "start" {
		t.Errorf("missing attributes: %v", allAttrs)
	}
}

func TestKindString(t *testing.T) {
	if KindStageInit.String() != "stage_init" {
		t.Errorf("expected stage_init, got %s", KindStageInit)
	}
	if KindConstruction.String() != "construction" {
		t.Errorf("expected construction, got %s", KindConstruction)
	}
	if Kind(99).String() != "unknown" {
		t.Errorf("expected unknown, got %s", Kind(99))
	}
}

func TestJoin(t *testing.T) {
	if Join(KindConstruction, "build failed") != nil {
		t.Error("Join with no errors should be nil")
	}
	if Join(KindConstruction, "build failed", nil, nil) != nil {
		t.Error("Join with only nil errors should be nil")
	}

	first := New(KindStageInit, "detect: no engine")
	second := Attr(New(KindStageInit, "receive: queue closed"), "role", "receive")
	err := Join(KindConstruction, "build failed", first, second)

	if GetKind(err) != KindConstruction {
		t.Errorf("expected KindConstruction, got %v", GetKind(err))
	}
	if !HasKind(err, KindStageInit) {
		t.Error("expected joined causes to carry KindStageInit")
	}
	if HasKind(err, KindNotFound) {
		t.Error("did not expect KindNotFound")
	}
	if !Is(err, first) || !Is(err, second) {
		t.Error("expected errors.Is to find both causes")
	}

	causes := Causes(err)
	if len(causes) != 2 {
		t.Fatalf("expected 2 causes, got %d", len(causes))
	}
	if causes[0] != first {
		t.Errorf("unexpected first cause: %v", causes[0])
	}
}

func TestCausesSingle(t *testing.T) {
	if Causes(nil) != nil {
		t.Error("expected nil causes for nil error")
	}
	err := New(KindNotFound, "missing")
	causes := Causes(err)
	if len(causes) != 1 || causes[0] != err {
		t.Errorf("expected the error itself, got %v", causes)
	}
}
