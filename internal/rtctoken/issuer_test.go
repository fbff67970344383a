package rtctoken

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"strconv"
	"strings"
	"testing"
	"time"
)

const (
	testAppID = "970ca35de60c44645bbae8a215061b33"
	testCert  = "5cfd2fd1755d40ecb72977518be15d3b"
)

// tokenScope reads the channel and uid checksums a 006 token is bound to.
func tokenScope(t *testing.T, tok string) (channelCRC, uidCRC uint32) {
	t.Helper()
	prefix := "006" + testAppID
	if !strings.HasPrefix(tok, prefix) {
		t.Fatalf("unexpected token prefix: %.40s", tok)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(tok, prefix))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r := bytes.NewReader(raw)
	var sigLen uint16
	if err := binary.Read(r, binary.LittleEndian, &sigLen); err != nil {
		t.Fatalf("signature length: %v", err)
	}
	if _, err := r.Seek(int64(sigLen), 1); err != nil {
		t.Fatalf("skip signature: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &channelCRC); err != nil {
		t.Fatalf("channel crc: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &uidCRC); err != nil {
		t.Fatalf("uid crc: %v", err)
	}
	return channelCRC, uidCRC
}

func crc(s string) uint32 { return crc32.ChecksumIEEE([]byte(s)) }

func TestIssuePair_ScopesEachTokenToItsParty(t *testing.T) {
	iss, err := NewIssuer(Config{AppID: testAppID, AppCertificate: testCert, TTL: 30 * time.Minute})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	now := time.Unix(1700000000, 500)

	pair, err := iss.IssuePair("deal42", 3676, 9120, now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.Channel != "deal42" || pair.CallerUID != 3676 || pair.ReceiverUID != 9120 {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if !pair.ExpiresAt.Equal(time.Unix(1700001800, 0)) {
		t.Fatalf("unexpected expiry %v", pair.ExpiresAt)
	}
	if pair.CallerToken == pair.ReceiverToken {
		t.Fatalf("caller and receiver must get distinct tokens")
	}

	ch, uid := tokenScope(t, pair.CallerToken)
	if ch != crc("deal42") || uid != crc(strconv.Itoa(3676)) {
		t.Fatalf("caller token bound to wrong scope")
	}
	ch, uid = tokenScope(t, pair.ReceiverToken)
	if ch != crc("deal42") || uid != crc(strconv.Itoa(9120)) {
		t.Fatalf("receiver token bound to wrong scope")
	}
}

func TestIssue_DiffersPerChannel(t *testing.T) {
	iss, _ := NewIssuer(Config{AppID: testAppID, AppCertificate: testCert})
	exp := time.Unix(1700003600, 0)
	a, err := iss.Issue("deal42", 5, exp)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	b, err := iss.Issue("deal43", 5, exp)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	chA, _ := tokenScope(t, a)
	chB, _ := tokenScope(t, b)
	if chA == chB {
		t.Fatalf("tokens for different channels share a scope")
	}
}

func TestIssue_RejectsBadInput(t *testing.T) {
	iss, _ := NewIssuer(Config{AppID: testAppID, AppCertificate: testCert})
	exp := time.Unix(1700003600, 0)
	if _, err := iss.Issue("deal42", 0, exp); err == nil {
		t.Fatalf("expected error for zero uid")
	}
	if _, err := iss.Issue("", 5, exp); err == nil {
		t.Fatalf("expected error for empty channel")
	}
	if _, err := iss.IssuePair("deal42", 7, 7, time.Now()); err == nil {
		t.Fatalf("expected error for identical identities")
	}
}

func TestNewIssuer_ValidatesCredentials(t *testing.T) {
	cases := []Config{
		{AppID: "short", AppCertificate: testCert},
		{AppID: testAppID, AppCertificate: "zz" + testCert[2:]},
		{},
	}
	for _, c := range cases {
		if _, err := NewIssuer(c); err != ErrInvalidCredentials {
			t.Fatalf("expected ErrInvalidCredentials for %+v, got %v", c, err)
		}
	}
	iss, err := NewIssuer(Config{AppID: testAppID, AppCertificate: testCert})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	if iss.AppID() != testAppID || iss.ttl != DefaultTTL {
		t.Fatalf("unexpected defaults: %s %v", iss.AppID(), iss.ttl)
	}
}
