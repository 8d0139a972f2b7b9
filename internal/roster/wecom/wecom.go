// Package wecom reads the roster from WeCom (WeChat Work).
package wecom

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/isometry/virtual-ldap/internal/ldap"
	"github.com/isometry/virtual-ldap/internal/roster"
	"github.com/isometry/virtual-ldap/internal/roster/apiclient"
)

const (
	Name           = "wecom"
	DefaultBaseURL = "https://qyapi.weixin.qq.com/cgi-bin"

	statusActive = 1
)

// Provider implements roster.Provider for WeCom. AppKey is the corp id and
// AppSecret the corp secret of a self-built application.
type Provider struct {
	logger ldap.Logger
	opts   roster.Options
	client *apiclient.Client
	tokens *apiclient.TokenCache
}

// New creates an unconfigured WeCom provider.
func New(logger ldap.Logger) roster.Provider {
	if logger == nil {
		logger = ldap.NewNullLogger()
	}
	return &Provider{logger: logger}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Setup(_ context.Context, opts roster.Options) error {
	if opts.AppKey == "" || opts.AppSecret == "" {
		return fmt.Errorf("wecom: appKey (corpid) and appSecret (corpsecret) are required")
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
		return fmt.Errorf("wecom: %w", err)
	}

	p.opts = opts
	p.client = client
	p.tokens = apiclient.NewTokenCache(p.fetchToken)
	p.logger.Info("WeCom provider ready", map[string]any{"base_url": opts.BaseURL})
	return nil
}

func (p *Provider) Reload(context.Context) error {
	if p.tokens != nil {
		p.tokens.Invalidate()
	}
	return nil
}

func (p *Provider) fetchToken(ctx context.Context) (string, time.Duration, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	query := url.Values{"corpid": {p.opts.AppKey}, "corpsecret": {p.opts.AppSecret}}
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

// FetchDepartments lists all departments visible to the application. The
// department with parentid 0 is the root.
func (p *Provider) FetchDepartments(ctx context.Context) ([]roster.Department, error) {
	var resp struct {
		Department []struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			ParentID int64  `json:"parentid"`
		} `json:"department"`
	}
	if err := p.get(ctx, "department/list", url.Values{}, &resp); err != nil {
		return nil, &roster.ProviderFetchError{Provider: Name, Operation: "departments", Cause: err}
	}

	departments := make([]roster.Department, 0, len(resp.Department))
	for _, d := range resp.Department {
		dep := roster.Department{ID: strconv.FormatInt(d.ID, 10), Name: d.Name}
		if d.ParentID != 0 {
			dep.ParentID = strconv.FormatInt(d.ParentID, 10)
		}
		departments = append(departments, dep)
	}
	return departments, nil
}

type userInfo struct {
	UserID     string  `json:"userid"`
	Name       string  `json:"name"`
	Department []int64 `json:"department"`
	Position   string  `json:"position"`
	Mobile     string  `json:"mobile"`
	Email      string  `json:"email"`
	BizMail    string  `json:"biz_mail"`
	Avatar     string  `json:"avatar"`
	Status     int     `json:"status"`
}

// FetchUsers lists the direct members of one department. User ids are
// lower-cased; WeCom treats them case-insensitively.
func (p *Provider) FetchUsers(ctx context.Context, departmentID string) ([]roster.User, error) {
	var resp struct {
		UserList []userInfo `json:"userlist"`
	}
	if err := p.get(ctx, "user/list", url.Values{"department_id": {departmentID}}, &resp); err != nil {
		return nil, &roster.ProviderFetchError{Provider: Name, Operation: "users", Target: departmentID, Cause: err}
	}

	users := make([]roster.User, 0, len(resp.UserList))
	for _, u := range resp.UserList {
		email := u.BizMail
		if email == "" {
			email = u.Email
		}

		departments := make([]string, len(u.Department))
		for i, id := range u.Department {
			departments[i] = strconv.FormatInt(id, 10)
		}

		users = append(users, roster.User{
			ID:            strings.ToLower(u.UserID),
			Name:          u.Name,
			Email:         email,
			Active:        u.Status == statusActive,
			DepartmentIDs: departments,
			Title:         u.Position,
			Mobile:        u.Mobile,
			AvatarURL:     u.Avatar,
		})
	}

	p.logger.Debug("Fetched department users", map[string]any{"department": departmentID, "count": len(users)})
	return users, nil
}
