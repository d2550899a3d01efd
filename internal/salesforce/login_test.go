package salesforce

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"linerelay/internal/domain"
)

const soapLoginOK = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com">
<soapenv:Body><loginResponse><result>
<metadataServerUrl>https://na1.my.salesforce.com/services/Soap/m/59.0/00Dxx</metadataServerUrl>
<passwordExpired>false</passwordExpired>
<sandbox>false</sandbox>
<serverUrl>https://na1.my.salesforce.com/services/Soap/u/59.0/00Dxx</serverUrl>
<sessionId>00Dxx!SESSION</sessionId>
<userId>005xx000001</userId>
<userInfo><organizationId>00Dxx0000001</organizationId><userName>user@example.com</userName></userInfo>
</result></loginResponse></soapenv:Body></soapenv:Envelope>`

const soapLoginFault = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns:sf="urn:fault.partner.soap.sforce.com">
<soapenv:Body><soapenv:Fault><faultcode>INVALID_LOGIN</faultcode>
<faultstring>INVALID_LOGIN: Invalid username, password, security token; or user locked out.</faultstring>
</soapenv:Fault></soapenv:Body></soapenv:Envelope>`

func TestSOAPLogin_Success(t *testing.T) {
	var path, action, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		action = r.Header.Get("SOAPAction")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(soapLoginOK))
	}))
	defer srv.Close()

	login := NewSOAPLogin(srv.URL, "59.0", srv.Client())
	s, err := login.Login(context.Background(), Credentials{Username: "a&b@example.com", Password: "pw", SecurityToken: "tok"})
	if err != nil {
		t.Fatal(err)
	}

	if path != "/services/Soap/u/59.0" {
		t.Errorf("unexpected path %q", path)
	}
	if action != "login" {
		t.Errorf("unexpected SOAPAction %q", action)
	}
	if !strings.Contains(body, "<n1:password>pwtok</n1:password>") {
		t.Errorf("password+token not sent: %s", body)
	}
	if !strings.Contains(body, "a&amp;b@example.com") {
		t.Errorf("username should be XML-escaped: %s", body)
	}
	if s.AccessToken != "00Dxx!SESSION" {
		t.Errorf("unexpected token %q", s.AccessToken)
	}
	if s.InstanceURL != "https://na1.my.salesforce.com" {
		t.Errorf("unexpected instance %q", s.InstanceURL)
	}
	if s.UserID != "005xx000001" || s.OrganizationID != "00Dxx0000001" {
		t.Errorf("unexpected ids %+v", s)
	}
}

func TestSOAPLogin_Fault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(soapLoginFault))
	}))
	defer srv.Close()

	login := NewSOAPLogin(srv.URL, "59.0", srv.Client())
	_, err := login.Login(context.Background(), testCreds)

	var ae *domain.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !strings.Contains(ae.Reason, "INVALID_LOGIN") {
		t.Errorf("fault code should be kept, got %q", ae.Reason)
	}
}

func TestSOAPLogin_GarbageResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	login := NewSOAPLogin(srv.URL, "59.0", srv.Client())
	if _, err := login.Login(context.Background(), testCreds); err == nil {
		t.Fatal("expected error")
	}
}

func TestOAuth2Login_Success(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		form = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"username":      r.PostForm.Get("username"),
			"password":      r.PostForm.Get("password"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"00Dxx!OAUTH","instance_url":"https://na1.my.salesforce.com","id":"https://login.salesforce.com/id/00Dxx0000001/005xx000001","token_type":"Bearer","issued_at":"1700000000000","signature":"sig"}`))
	}))
	defer srv.Close()

	login := NewOAuth2Login(srv.URL, "cid", "csecret", srv.Client())
	s, err := login.Login(context.Background(), testCreds)
	if err != nil {
		t.Fatal(err)
	}

	if form["grant_type"] != "password" || form["password"] != "pwtok" || form["username"] != testCreds.Username {
		t.Errorf("unexpected form %v", form)
	}
	if form["client_id"] != "cid" || form["client_secret"] != "csecret" {
		t.Errorf("client credentials should be sent in params, got %v", form)
	}
	if s.AccessToken != "00Dxx!OAUTH" || s.InstanceURL != "https://na1.my.salesforce.com" {
		t.Errorf("unexpected session %+v", s)
	}
	if s.OrganizationID != "00Dxx0000001" || s.UserID != "005xx000001" {
		t.Errorf("ids not parsed from identity url: %+v", s)
	}
}

func TestOAuth2Login_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"authentication failure"}`))
	}))
	defer srv.Close()

	login := NewOAuth2Login(srv.URL, "cid", "csecret", srv.Client())
	_, err := login.Login(context.Background(), testCreds)
	if !domain.IsAuthError(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
}
