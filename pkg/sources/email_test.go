package sources

import (
	"context"
	"strings"
	"testing"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Re: Budget", "budget"},
		{"RE: RE: Budget", "budget"},
		{"Fwd: AW: Status Update", "status update"},
		{"WG: Fw: Hello", "hello"},
		{" Plain  Subject ", "plain subject"},
		{"Recap of Monday", "recap of monday"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSubject(tt.in); got != tt.want {
			t.Errorf("NormalizeSubject(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestThreadID_StableAcrossReplies(t *testing.T) {
	base := ThreadID("Budget review")
	for _, subject := range []string{"Re: Budget review", "RE: Re: Budget review", "Fwd: budget REVIEW"} {
		if got := ThreadID(subject); got != base {
			t.Errorf("ThreadID(%q) = %q, want %q", subject, got, base)
		}
	}
	if ThreadID("Something else") == base {
		t.Error("different subjects must not share a thread ID")
	}
}

func TestEmailSource_SingleMessage(t *testing.T) {
	raw := "From: Ana Lopez <ana@example.com>\r\n" +
		"To: ben@example.com\r\n" +
		"Subject: Re: Fwd: Budget review\r\n" +
		"Date: Mon, 02 Mar 2026 10:30:00 +0100\r\n" +
		"Message-ID: <m1@example.com>\r\n" +
		"In-Reply-To: <m0@example.com>\r\n" +
		"References: <m0@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Numbers look fine.\r\n"

	res, err := NewRegistry().Extract(context.Background(), "", []byte(raw), "mail.eml")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Kind != "email" {
		t.Errorf("Kind = %q, want email", res.Kind)
	}
	meta := res.SourceMeta
	if meta["message_id"] != "m1@example.com" {
		t.Errorf("message_id = %q", meta["message_id"])
	}
	if meta["in_reply_to"] != "m0@example.com" {
		t.Errorf("in_reply_to = %q", meta["in_reply_to"])
	}
	if meta["references"] != "<m0@example.com>" {
		t.Errorf("references = %q", meta["references"])
	}
	if meta["thread_id"] != ThreadID("Budget review") {
		t.Errorf("thread_id = %q, want ID of normalized subject", meta["thread_id"])
	}
	if meta["subject"] != "Re: Fwd: Budget review" {
		t.Errorf("subject = %q", meta["subject"])
	}
	if meta["date"] != "2026-03-02T09:30:00Z" {
		t.Errorf("date = %q, want UTC RFC3339", meta["date"])
	}
	for _, want := range []string{
		"From: Ana Lopez <ana@example.com>",
		"Subject: Re: Fwd: Budget review",
		"Numbers look fine.",
	} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("Text missing %q:\n%s", want, res.Text)
		}
	}
}

func TestEmailSource_MultipartPrefersPlain(t *testing.T) {
	raw := "From: ana@example.com\r\n" +
		"To: ben@example.com\r\n" +
		"Subject: =?utf-8?q?Photos_caf=C3=A9?=\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"XYZ\"\r\n" +
		"\r\n" +
		"--XYZ\r\n" +
		"Content-Type: multipart/alternative; boundary=\"ABC\"\r\n" +
		"\r\n" +
		"--ABC\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Caf=C3=A9 plans attached.\r\n" +
		"--ABC\r\n" +
		"Content-Type: text/html\r\n" +
		"\r\n" +
		"<p>HTML variant, should lose.</p>\r\n" +
		"--ABC--\r\n" +
		"--XYZ\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Disposition: attachment; filename=\"cafe.jpg\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"/9j/4AAQ\r\n" +
		"--XYZ--\r\n"

	res, err := NewRegistry().Extract(context.Background(), "message/rfc822", []byte(raw), "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "Café plans attached.") {
		t.Errorf("Text missing decoded plain part:\n%s", res.Text)
	}
	if strings.Contains(res.Text, "should lose") {
		t.Errorf("Text used html alternative:\n%s", res.Text)
	}
	if len(res.Attachments) != 1 || res.Attachments[0] != "cafe.jpg" {
		t.Errorf("Attachments = %v, want [cafe.jpg]", res.Attachments)
	}
	if res.SourceMeta["subject"] != "Photos café" {
		t.Errorf("subject = %q, want decoded", res.SourceMeta["subject"])
	}
	if res.SourceMeta["thread_id"] != ThreadID("Photos café") {
		t.Errorf("thread_id = %q", res.SourceMeta["thread_id"])
	}
}

func TestEmailSource_HTMLOnlyBody(t *testing.T) {
	raw := "From: ana@example.com\r\n" +
		"To: ben@example.com\r\n" +
		"Subject: Newsletter\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><p>Hello <b>Ben</b>!</p></body></html>\r\n"

	res, err := NewRegistry().Extract(context.Background(), "", []byte(raw), "mail.eml")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(res.Text, "Hello Ben!") {
		t.Errorf("Text = %q, want stripped html body", res.Text)
	}
	if strings.Contains(res.Text, "<p>") {
		t.Errorf("Text still contains markup: %q", res.Text)
	}
}

func TestEmailSource_Mbox(t *testing.T) {
	mbox := "From ana@example.com Mon Mar  2 10:30:00 2026\n" +
		"From: ana@example.com\n" +
		"To: ben@example.com\n" +
		"Subject: Trip plan\n" +
		"Date: Mon, 02 Mar 2026 10:30:00 +0000\n" +
		"\n" +
		"Leaving Friday.\n" +
		"\n" +
		"From ben@example.com Mon Mar  2 11:00:00 2026\n" +
		"From: ben@example.com\n" +
		"To: ana@example.com\n" +
		"Subject: Re: Trip plan\n" +
		"Date: Mon, 02 Mar 2026 11:00:00 +0000\n" +
		"\n" +
		">From my side all good.\n"

	res, err := NewRegistry().Extract(context.Background(), "", []byte(mbox), "thread.mbox")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	meta := res.SourceMeta
	if meta["messages"] != "2" {
		t.Errorf("messages = %q, want 2", meta["messages"])
	}
	if meta["participants"] != "2" {
		t.Errorf("participants = %q, want 2", meta["participants"])
	}
	if meta["subject"] != "Trip plan" {
		t.Errorf("subject = %q, want first message subject", meta["subject"])
	}
	if meta["thread_id"] != ThreadID("Re: Trip plan") {
		t.Error("replies must land in the same thread as the opener")
	}
	for _, want := range []string{"Leaving Friday.", "From my side all good.", "---"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("Text missing %q:\n%s", want, res.Text)
		}
	}
	if strings.Contains(res.Text, ">From") {
		t.Errorf("mbox escaping not removed:\n%s", res.Text)
	}
}

func TestSplitMbox_SingleMessageNoSeparator(t *testing.T) {
	if got := splitMbox([]byte("no separator here\n")); got != nil {
		t.Errorf("splitMbox = %v, want nil", got)
	}
}
