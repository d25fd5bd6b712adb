package idempotency

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func baseFields() KeyFields {
	from := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	return KeyFields{
		FromUserID:   1,
		ToUserID:     2,
		Title:        "pay rent",
		Rule:         "0 0 9 1 * ?",
		ReminderType: "reminder",
		ValidFrom:    &from,
	}
}

func TestBusinessKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := BusinessKey(baseFields())
	b := BusinessKey(baseFields())
	if a != b {
		t.Fatalf("identical tuples produced different keys: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "biz-") {
		t.Errorf("key %q missing business prefix", a)
	}
	if len(a) != len("biz-")+24 {
		t.Errorf("key %q has length %d, want %d", a, len(a), len("biz-")+24)
	}
	if err := Validate(a); err != nil {
		t.Errorf("derived key failed validation: %v", err)
	}
	if !IsBusinessKey(a) {
		t.Errorf("IsBusinessKey(%q) = false", a)
	}
}

func TestBusinessKeyDiverges(t *testing.T) {
	t.Parallel()

	base := BusinessKey(baseFields())

	title := baseFields()
	title.Title = "pay rent!"
	if BusinessKey(title) == base {
		t.Error("title change did not change the key")
	}

	rule := baseFields()
	rule.Rule = "0 0 9 2 * ?"
	if BusinessKey(rule) == base {
		t.Error("rule change did not change the key")
	}

	user := baseFields()
	user.ToUserID = 3
	if BusinessKey(user) == base {
		t.Error("recipient change did not change the key")
	}
}

func TestBusinessKeyNilSentinels(t *testing.T) {
	t.Parallel()

	// A nil cap and a zero cap are different requests.
	zero := 0
	capped := baseFields()
	capped.MaxExecutions = &zero
	if BusinessKey(capped) == BusinessKey(baseFields()) {
		t.Error("nil and zero MaxExecutions hashed identically")
	}

	unbounded := baseFields()
	unbounded.ValidFrom = nil
	if BusinessKey(unbounded) == BusinessKey(baseFields()) {
		t.Error("nil and set ValidFrom hashed identically")
	}
}

func TestBusinessKeyNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	padded := baseFields()
	padded.Title = "  pay rent  "
	padded.Rule = " 0 0 9 1 * ? "
	if BusinessKey(padded) != BusinessKey(baseFields()) {
		t.Error("surrounding whitespace changed the key")
	}
}

func TestRandomKey(t *testing.T) {
	t.Parallel()

	a := RandomKey()
	b := RandomKey()
	if a == b {
		t.Fatalf("two random keys collided: %q", a)
	}
	if IsBusinessKey(a) {
		t.Errorf("random key %q classified as business key", a)
	}
	if err := Validate(a); err != nil {
		t.Errorf("random key failed validation: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := []string{"biz-abc123", "A_Z-09", strings.Repeat("k", 64)}
	for _, key := range valid {
		if err := Validate(key); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", key, err)
		}
	}
	invalid := []string{"", strings.Repeat("k", 65), "has space", "semi;colon", "unié"}
	for _, key := range invalid {
		if err := Validate(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}
