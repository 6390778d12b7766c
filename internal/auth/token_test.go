package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := Issue(secret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.JTI == "" || claims.Iat == 0 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	if _, err := Issue([]byte("secret"), " ", time.Hour); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Issue() error = %v, want ErrInvalidToken", err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{Sub: "user-1", JTI: "jti-1", Exp: time.Now().Add(-time.Minute).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("ParseToken() error = %v, want ErrExpiredToken", err)
	}
}

func TestParseTokenRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	issued, err := Issue(secret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	other, err := Issue(secret, "user-2", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	tests := map[string]string{
		"wrong secret":      "",
		"swapped signature": issued[:indexDot(issued)] + other[indexDot(other):],
		"no separator":      "abc",
		"extra segment":     issued + ".x",
		"empty":             "",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			key := secret
			if name == "wrong secret" {
				key = []byte("other")
				token = issued
			}
			if _, err := ParseToken(key, token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestParseTokenRequiresClaims(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{Sub: "user-1", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken(secret, issued); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("ParseToken() error = %v, want ErrInvalidToken", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def", "abc.def", true},
		{"bearer  abc.def ", "abc.def", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v, want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func indexDot(token string) int {
	for i := range token {
		if token[i] == '.' {
			return i
		}
	}
	return len(token)
}
