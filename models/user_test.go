package models

import "testing"

func TestUserPasswordHashing(t *testing.T) {
	var u User
	if err := u.SetPassword("ward1234"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if u.PasswordHash == "ward1234" {
		t.Fatalf("password stored in plain text")
	}
	if !u.CheckPassword("ward1234") {
		t.Fatalf("correct password rejected")
	}
	if u.CheckPassword("ward12345") {
		t.Fatalf("wrong password accepted")
	}
}
