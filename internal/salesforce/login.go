package salesforce

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"linerelay/internal/domain"
)

const (
	DefaultLoginURL   = "https://login.salesforce.com"
	DefaultAPIVersion = "59.0"
)

// --- SOAP partner login ---

// SOAPLogin logs in through the partner SOAP API.
type SOAPLogin struct {
	loginURL   string
	apiVersion string
	client     *http.Client
}

func NewSOAPLogin(loginURL, apiVersion string, client *http.Client) *SOAPLogin {
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	if client == nil {
		client = SharedHTTPClient(0)
	}
	return &SOAPLogin{
		loginURL:   strings.TrimRight(loginURL, "/"),
		apiVersion: apiVersion,
		client:     client,
	}
}

func (s *SOAPLogin) Method() string { return "soap" }

type soapEnvelope struct {
	Body struct {
		LoginResponse *struct {
			Result struct {
				ServerURL string `xml:"serverUrl"`
				SessionID string `xml:"sessionId"`
				UserID    string `xml:"userId"`
				UserInfo  struct {
					OrganizationID string `xml:"organizationId"`
				} `xml:"userInfo"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

func (s *SOAPLogin) Login(ctx context.Context, creds Credentials) (*domain.Session, error) {
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	body.WriteString(`<env:Envelope xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">`)
	body.WriteString(`<env:Body><n1:login xmlns:n1="urn:partner.soap.sforce.com"><n1:username>`)
	xml.EscapeText(&body, []byte(creds.Username))
	body.WriteString(`</n1:username><n1:password>`)
	xml.EscapeText(&body, []byte(creds.secret()))
	body.WriteString(`</n1:password></n1:login></env:Body></env:Envelope>`)

	endpoint := fmt.Sprintf("%s/services/Soap/u/%s", s.loginURL, s.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "login")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read login response: %w", err)
	}

	var env soapEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode login response (HTTP %d): %w", resp.StatusCode, err)
	}
	if f := env.Body.Fault; f != nil {
		return nil, &domain.AuthError{Reason: strings.TrimSpace(f.Code + " " + f.String)}
	}
	if resp.StatusCode != http.StatusOK || env.Body.LoginResponse == nil {
		return nil, fmt.Errorf("unexpected login response: HTTP %d", resp.StatusCode)
	}

	r := env.Body.LoginResponse.Result
	instance, err := instanceURL(r.ServerURL)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		AccessToken:    r.SessionID,
		InstanceURL:    instance,
		UserID:         r.UserID,
		OrganizationID: r.UserInfo.OrganizationID,
		IssuedAt:       time.Now(),
	}, nil
}

// instanceURL reduces a SOAP server URL to scheme://host.
func instanceURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid server url %q", serverURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// --- OAuth2 username-password flow ---

// OAuth2Login logs in through a connected app with the OAuth2 password grant.
type OAuth2Login struct {
	cfg    *oauth2.Config
	client *http.Client
}

func NewOAuth2Login(loginURL, clientID, clientSecret string, client *http.Client) *OAuth2Login {
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	if client == nil {
		client = SharedHTTPClient(0)
	}
	return &OAuth2Login{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  strings.TrimRight(loginURL, "/") + "/services/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

func (o *OAuth2Login) Method() string { return "oauth2" }

func (o *OAuth2Login) Login(ctx context.Context, creds Credentials) (*domain.Session, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.client)
	tok, err := o.cfg.PasswordCredentialsToken(ctx, creds.Username, creds.secret())
	if err != nil {
		return nil, &domain.AuthError{Reason: "oauth2 token request failed", Err: err}
	}

	instance, _ := tok.Extra("instance_url").(string)
	if instance == "" {
		return nil, fmt.Errorf("token response has no instance_url")
	}
	s := &domain.Session{
		AccessToken: tok.AccessToken,
		InstanceURL: strings.TrimRight(instance, "/"),
		IssuedAt:    time.Now(),
	}
	// id is https://login.salesforce.com/id/<orgId>/<userId>
	if id, _ := tok.Extra("id").(string); id != "" {
		parts := strings.Split(strings.TrimRight(id, "/"), "/")
		if len(parts) >= 2 {
			s.OrganizationID = parts[len(parts)-2]
			s.UserID = parts[len(parts)-1]
		}
	}
	return s, nil
}
