// Package dingtalk reads the roster from the DingTalk open platform.
package dingtalk

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mozillazg/go-pinyin"

	"github.com/isometry/virtual-ldap/internal/ldap"
	"github.com/isometry/virtual-ldap/internal/roster"
	"github.com/isometry/virtual-ldap/internal/roster/apiclient"
)

const (
	// Name is the provider's registry name.
	Name = "dingtalk"

	DefaultBaseURL = "https://oapi.dingtalk.com"

	// RootDepartmentID is DingTalk's implicit top-level department.
	RootDepartmentID   = "1"
	RootDepartmentName = "Staff"

	pageSize = 100
)

// Provider implements roster.Provider for DingTalk.
type Provider struct {
	logger ldap.Logger
	opts   roster.Options
	client *apiclient.Client
	tokens *apiclient.TokenCache
}

// New creates an unconfigured DingTalk provider.
func New(logger ldap.Logger) roster.Provider {
	if logger == nil {
		logger = ldap.NewNullLogger()
	}
	return &Provider{logger: logger}
}

func (p *Provider) Name() string { return Name }

// Setup validates opts and creates the API client. The access token is
// fetched on the first API call, so an unreachable endpoint surfaces from
// the sync pass rather than from Setup.
func (p *Provider) Setup(_ context.Context, opts roster.Options) error {
	if opts.AppKey == "" || opts.AppSecret == "" {
		return fmt.Errorf("dingtalk: appKey and appSecret are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	client, err := apiclient.New(apiclient.Config{
		BaseURL:           opts.BaseURL,
		RequestsPerSecond: opts.RequestsPerSecond,
		Timeout:           opts.Timeout,
		RetryMax:          3,
		Logger:            p.logger,
	})
	if err != nil {
		return fmt.Errorf("dingtalk: %w", err)
	}

	p.opts = opts
	p.client = client
	p.tokens = apiclient.NewTokenCache(p.fetchToken)
	p.logger.Info("DingTalk provider ready", map[string]any{"base_url": opts.BaseURL})
	return nil
}

// Reload discards the access token so the next call authenticates again.
func (p *Provider) Reload(context.Context) error {
	if p.tokens != nil {
		p.tokens.Invalidate()
	}
	return nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (p *Provider) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var resp tokenResponse
	query := url.Values{"appkey": {p.opts.AppKey}, "appsecret": {p.opts.AppSecret}}
	if err := p.client.Get(ctx, "gettoken", query, &resp); err != nil {
		return "", 0, err
	}
	if resp.AccessToken == "" {
		return "", 0, fmt.Errorf("gettoken returned no access_token")
	}
	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

func (p *Provider) get(ctx context.Context, path string, query url.Values, out any) error {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return err
	}
	query.Set("access_token", token)
	return p.client.Get(ctx, path, query, out)
}

type departmentListResponse struct {
	Department []struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		ParentID int64  `json:"parentid"`
	} `json:"department"`
}

// FetchDepartments lists every department below the root and prepends the
// synthetic root department {1, Staff}.
func (p *Provider) FetchDepartments(ctx context.Context) ([]roster.Department, error) {
	var resp departmentListResponse
	query := url.Values{"fetch_child": {"true"}, "id": {RootDepartmentID}}
	if err := p.get(ctx, "department/list", query, &resp); err != nil {
		return nil, &roster.ProviderFetchError{Provider: Name, Operation: "departments", Cause: err}
	}

	departments := make([]roster.Department, 0, len(resp.Department)+1)
	departments = append(departments, roster.Department{ID: RootDepartmentID, Name: RootDepartmentName})

	for _, d := range resp.Department {
		id := strconv.FormatInt(d.ID, 10)
		if id == RootDepartmentID {
			continue
		}
		parent := RootDepartmentID
		if d.ParentID != 0 {
			parent = strconv.FormatInt(d.ParentID, 10)
		}
		departments = append(departments, roster.Department{ID: id, Name: d.Name, ParentID: parent})
	}
	return departments, nil
}

type userPage struct {
	HasMore  bool       `json:"hasMore"`
	UserList []userInfo `json:"userlist"`
}

type userInfo struct {
	UserID     string  `json:"userid"`
	Name       string  `json:"name"`
	OrgEmail   string  `json:"orgEmail"`
	Email      string  `json:"email"`
	Active     bool    `json:"active"`
	Department []int64 `json:"department"`
	Position   string  `json:"position"`
	Mobile     string  `json:"mobile"`
	Avatar     string  `json:"avatar"`
	Remark     string  `json:"remark"`
}

// FetchUsers pages through user/listbypage for one department.
func (p *Provider) FetchUsers(ctx context.Context, departmentID string) ([]roster.User, error) {
	var users []roster.User

	for offset := 0; ; offset += pageSize {
		var page userPage
		query := url.Values{
			"department_id": {departmentID},
			"offset":        {strconv.Itoa(offset)},
			"size":          {strconv.Itoa(pageSize)},
			"order":         {"entry_asc"},
		}
		if err := p.get(ctx, "user/listbypage", query, &page); err != nil {
			return nil, &roster.ProviderFetchError{Provider: Name, Operation: "users", Target: departmentID, Cause: err}
		}

		for _, u := range page.UserList {
			users = append(users, toUser(u))
		}
		if !page.HasMore || len(page.UserList) == 0 {
			break
		}
	}

	p.logger.Debug("Fetched department users", map[string]any{"department": departmentID, "count": len(users)})
	return users, nil
}

func toUser(u userInfo) roster.User {
	email := u.OrgEmail
	if email == "" {
		email = u.Email
	}

	departments := make([]string, len(u.Department))
	for i, id := range u.Department {
		departments[i] = strconv.FormatInt(id, 10)
	}

	py := u.Remark
	if py == "" {
		py = Pinyin(u.Name)
	}

	return roster.User{
		ID:            u.UserID,
		Name:          u.Name,
		Email:         email,
		Active:        u.Active,
		DepartmentIDs: departments,
		Title:         u.Position,
		Mobile:        u.Mobile,
		AvatarURL:     u.Avatar,
		Extra: []ldap.Attribute{
			{Name: "pinyin", Values: []string{py}},
			{Name: "remark", Values: []string{u.Remark}},
		},
	}
}

// Pinyin romanizes a name without tones. Characters without a reading
// (Latin letters, digits, spaces) are kept as they are.
func Pinyin(name string) string {
	args := pinyin.NewArgs()
	args.Fallback = func(r rune, _ pinyin.Args) []string {
		return []string{string(r)}
	}
	return strings.Join(pinyin.LazyConvert(name, &args), "")
}
