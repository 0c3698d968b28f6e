package guard

import "testing"

func TestForcePushBlocked(t *testing.T) {
	r := Check("git push --force origin main")
	if r.Allowed {
		t.Fatal("force push should be blocked")
	}
	if r.Severity != SeverityCritical {
		t.Fatalf("severity = %q, want critical", r.Severity)
	}
}

func TestShortForceFlagBlocked(t *testing.T) {
	if r := Check("git push -f origin feature"); r.Allowed {
		t.Fatal("git push -f should be blocked")
	}
}

func TestHardResetBlocked(t *testing.T) {
	if r := Check("git reset --hard HEAD~3"); r.Allowed {
		t.Fatal("hard reset should be blocked")
	}
}

func TestRmRfRootBlocked(t *testing.T) {
	for _, cmd := range []string{"rm -rf /", "rm -rf ~", "rm -fr /etc", "sudo rm important.txt"} {
		if r := Check(cmd); r.Allowed {
			t.Fatalf("%q should be blocked", cmd)
		}
	}
}

func TestRepoDeleteBlocked(t *testing.T) {
	if r := Check("gh repo delete acme/widgets --yes"); r.Allowed {
		t.Fatal("gh repo delete should be blocked")
	}
}

func TestRemoteBranchDeletionBlocked(t *testing.T) {
	if r := Check("git push origin --delete feature-x"); r.Allowed {
		t.Fatal("remote branch deletion should be blocked")
	}
	if r := Check("git push origin :feature-x"); r.Allowed {
		t.Fatal("colon-form remote branch deletion should be blocked")
	}
}

func TestOrdinaryCommandsAllowed(t *testing.T) {
	for _, cmd := range []string{
		"git status",
		"git commit -m 'fix readme'",
		"ls -la",
		"rm notes.txt",
		"update the readme in org/repo",
	} {
		if r := Check(cmd); !r.Allowed {
			t.Fatalf("%q should be allowed, got reason %q", cmd, r.Reason)
		}
	}
}

func TestPushToMainWarns(t *testing.T) {
	r := Check("git push origin main")
	if !r.Allowed {
		t.Fatalf("push to main should be allowed with warning, got blocked: %s", r.Reason)
	}
	if r.Warning == "" {
		t.Fatal("expected a warning for push to main")
	}
}

func TestNpmPublishWarns(t *testing.T) {
	r := Check("npm publish")
	if !r.Allowed || r.Warning == "" {
		t.Fatalf("npm publish should warn, got %+v", r)
	}
}

func TestCheckIsDeterministic(t *testing.T) {
	cmd := "git push --force origin main"
	first := Check(cmd)
	for i := 0; i < 10; i++ {
		if got := Check(cmd); got != first {
			t.Fatalf("check not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestCheckMultipleSkipsComments(t *testing.T) {
	text := "# this mentions git push --force but is a comment\ngit status\n\ngit push origin main"
	r := CheckMultiple(text)
	if !r.Allowed {
		t.Fatalf("expected allowed, got blocked: %s", r.Reason)
	}
	if r.Warning == "" {
		t.Fatal("expected warning from push to main line")
	}
}

func TestCheckMultipleBlocksOnAnyLine(t *testing.T) {
	text := "git status\nrm -rf /\ngit log"
	if r := CheckMultiple(text); r.Allowed {
		t.Fatal("expected block from rm -rf / line")
	}
}

func TestDetectSensitiveFindsDeclaredPush(t *testing.T) {
	text := "I ran git push origin feature-branch and the tests pass."
	ds := DetectSensitive(text)
	if len(ds) == 0 {
		t.Fatal("expected a detection for declared git push")
	}
	if ds[0].Action != "git push" {
		t.Fatalf("action = %q, want git push", ds[0].Action)
	}
}

func TestDetectSensitiveDeduplicates(t *testing.T) {
	text := "git push origin a\ngit push origin b"
	if ds := DetectSensitive(text); len(ds) != 1 {
		t.Fatalf("got %d detections, want 1", len(ds))
	}
}

func TestDetectSensitiveIgnoresPlainText(t *testing.T) {
	if ds := DetectSensitive("All tests pass. The fix is committed locally."); len(ds) != 0 {
		t.Fatalf("unexpected detections: %+v", ds)
	}
}
