package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/porthorian/authlite"
	"github.com/porthorian/authlite/pkg/authz"
	memorycache "github.com/porthorian/authlite/pkg/cache/memory"
	ocrypto "github.com/porthorian/authlite/pkg/crypto"
	oerrors "github.com/porthorian/authlite/pkg/errors"
	memorystore "github.com/porthorian/authlite/pkg/storage/memory"
)

type fixture struct {
	client *authlite.Client
	server *httptest.Server
	admin  int64
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	client, err := authlite.New(authlite.Config{
		Users:  memorystore.NewAdapter(),
		Cache:  memorycache.NewAdapter(),
		Hasher: ocrypto.NewBcryptHasher(4),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	admin, err := client.CreateUser(context.Background(), authlite.CreateUserInput{
		Login:       "root",
		Password:    "secret",
		Permissions: []string{"MANAGE_USERS", "MANAGE_PERMISSIONS"},
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	server := httptest.NewServer(NewRouter(client, RouterOptions{}))
	t.Cleanup(server.Close)

	return fixture{client: client, server: server, admin: admin}
}

func (f fixture) do(t *testing.T, subject int64, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if subject > 0 {
		req.Header.Set("X-Authlite-User-Id", strconv.FormatInt(subject, 10))
	}

	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp, decoded
}

func TestAdminUserLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, f.admin, http.MethodPost, "/admin/users", `{"login":"alice","password":"pw","permissions":["READ","WRITE"]}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d body %v", resp.StatusCode, body)
	}
	if body["permission_mask"].(float64) != 3 {
		t.Fatalf("unexpected mask in %v", body)
	}
	if _, leaked := body["password_hash"]; leaked {
		t.Fatal("credential hash must not be exposed")
	}
	id := int64(body["id"].(float64))
	path := "/admin/users/" + strconv.FormatInt(id, 10)

	resp, body = f.do(t, f.admin, http.MethodDelete, path+"/permissions", `{"permissions":["READ"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d body %v", resp.StatusCode, body)
	}
	if body["permission_mask"].(float64) != float64(authz.PermissionWrite) {
		t.Fatalf("expected WRITE after revoke, got %v", body)
	}

	resp, body = f.do(t, f.admin, http.MethodPost, path+"/permissions", `{"permissions":["DELETE"]}`)
	if resp.StatusCode != http.StatusOK || body["permission_mask"].(float64) != float64(authz.PermissionWrite|authz.PermissionDelete) {
		t.Fatalf("grant: status %d body %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, f.admin, http.MethodPut, path+"/permissions", `{"mask":1}`)
	if resp.StatusCode != http.StatusOK || body["permission_mask"].(float64) != 1 {
		t.Fatalf("replace: status %d body %v", resp.StatusCode, body)
	}

	resp, body = f.do(t, f.admin, http.MethodGet, path, "")
	if resp.StatusCode != http.StatusOK || body["login"] != "alice" {
		t.Fatalf("get: status %d body %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, f.admin, http.MethodDelete, path, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: status %d", resp.StatusCode)
	}

	resp, body = f.do(t, f.admin, http.MethodDelete, path, "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != string(oerrors.CodeNotFound) {
		t.Fatalf("second delete: status %d body %v", resp.StatusCode, body)
	}
}

func TestAdminErrorMapping(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, f.admin, http.MethodPost, "/admin/users", `{"login":"root","password":"pw"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate login, got %d %v", resp.StatusCode, body)
	}

	resp, _ = f.do(t, f.admin, http.MethodPost, "/admin/users", `{"login":"x","password":"pw","extra":true}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, f.admin, http.MethodGet, "/admin/users/abc", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, f.admin, http.MethodPut, "/admin/users/1/permissions", `{"mask":1,"permissions":["READ"]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for mixed replacement, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, f.admin, http.MethodPost, "/admin/users/1/permissions", `{"permissions":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty grant, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, f.admin, http.MethodGet, "/admin/users/999/permissions", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing user, got %d", resp.StatusCode)
	}
}

func TestRequirePermissionsGuardsRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, _ := f.do(t, 0, http.MethodGet, "/admin/users/1", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without subject, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, 404, http.MethodGet, "/admin/users/1", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown subject, got %d", resp.StatusCode)
	}

	helper, err := f.client.CreateUser(ctx, authlite.CreateUserInput{Login: "helpdesk", Password: "pw", Permissions: []string{"MANAGE_USERS"}})
	if err != nil {
		t.Fatalf("create helper: %v", err)
	}

	resp, _ = f.do(t, helper, http.MethodGet, "/admin/users/1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected helpdesk to read users, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, helper, http.MethodPost, "/admin/users/1/permissions", `{"permissions":["ADMIN"]}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for mask change without MANAGE_PERMISSIONS, got %d", resp.StatusCode)
	}

	// The guard reads through the cache; a grant must be visible immediately.
	if _, err := f.client.GrantPermissions(ctx, helper, "MANAGE_PERMISSIONS"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	resp, _ = f.do(t, helper, http.MethodPost, "/admin/users/1/permissions", `{"permissions":["ADMIN"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected grant to take effect, got %d", resp.StatusCode)
	}
}

type failingLookup struct{}

func (failingLookup) LookupPermissionMask(context.Context, int64) (authz.PermissionMask, error) {
	return 0, oerrors.Wrap(oerrors.CodeStorageUnavailable, "user store unavailable", errors.New("dial tcp: refused"))
}

func TestRequirePermissionsStoreFailure(t *testing.T) {
	var reached bool
	guard := RequirePermissions(failingLookup{}, nil, authz.PermissionRead, DefaultConfig())
	handler := guard(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Authlite-User-Id", "1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if reached {
		t.Fatal("handler must not run when the lookup fails")
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "refused") {
		t.Fatalf("internal cause leaked: %s", rec.Body.String())
	}
}

func TestRequirePermissionsStoresSubject(t *testing.T) {
	lookup := lookupFunc(func(context.Context, int64) (authz.PermissionMask, error) {
		return authz.PermissionRead | authz.PermissionWrite, nil
	})

	var subject int64
	guard := RequirePermissions(lookup, HeaderSubject("X-User"), authz.PermissionRead, MiddlewareConfig{})
	handler := guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User", " 42 ")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot || subject != 42 {
		t.Fatalf("expected subject 42 to pass, got status %d subject %d", rec.Code, subject)
	}
}

type lookupFunc func(context.Context, int64) (authz.PermissionMask, error)

func (f lookupFunc) LookupPermissionMask(ctx context.Context, userID int64) (authz.PermissionMask, error) {
	return f(ctx, userID)
}

func TestRouterUsesClientRegistryBits(t *testing.T) {
	registry, err := authz.NewRegistry(map[authz.Permission]uint{
		authz.Read:              0,
		authz.ManageUsers:       10,
		authz.ManagePermissions: 11,
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	client, err := authlite.New(authlite.Config{
		Users:    memorystore.NewAdapter(),
		Cache:    memorycache.NewAdapter(),
		Hasher:   ocrypto.NewBcryptHasher(4),
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	admin, err := client.CreateUser(ctx, authlite.CreateUserInput{
		Login:       "root",
		Password:    "secret",
		Permissions: []string{"MANAGE_USERS", "MANAGE_PERMISSIONS"},
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	// Holds the compiled-in MANAGE_USERS bit, which this registry does not use.
	impostor, err := client.CreateUser(ctx, authlite.CreateUserInput{Login: "impostor", Password: "pw"})
	if err != nil {
		t.Fatalf("create impostor: %v", err)
	}
	if err := client.ReplacePermissions(ctx, impostor, authz.PermissionManageUsers|authz.PermissionManagePermissions); err != nil {
		t.Fatalf("replace impostor mask: %v", err)
	}

	server := httptest.NewServer(NewRouter(client, RouterOptions{}))
	defer server.Close()
	f := fixture{client: client, server: server, admin: admin}

	resp, body := f.do(t, admin, http.MethodGet, "/admin/users/"+strconv.FormatInt(admin, 10), "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected registry admin to read users, got %d %v", resp.StatusCode, body)
	}
	if body["permission_mask"].(float64) != float64(1<<10|1<<11) {
		t.Fatalf("unexpected admin mask %v", body)
	}

	resp, _ = f.do(t, admin, http.MethodPost, "/admin/users/"+strconv.FormatInt(impostor, 10)+"/permissions", `{"permissions":["READ"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected registry admin to change masks, got %d", resp.StatusCode)
	}

	resp, _ = f.do(t, impostor, http.MethodGet, "/admin/users/"+strconv.FormatInt(admin, 10), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected compiled-in bits to be refused, got %d", resp.StatusCode)
	}
}

func TestRouterDeniesWhenAdminPermissionsAreUnregistered(t *testing.T) {
	registry, err := authz.NewRegistry(map[authz.Permission]uint{authz.Read: 0})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	client, err := authlite.New(authlite.Config{
		Users:    memorystore.NewAdapter(),
		Hasher:   ocrypto.NewBcryptHasher(4),
		Registry: registry,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer client.Close()

	reader, err := client.CreateUser(context.Background(), authlite.CreateUserInput{Login: "reader", Password: "pw", Permissions: []string{"READ"}})
	if err != nil {
		t.Fatalf("create reader: %v", err)
	}

	server := httptest.NewServer(NewRouter(client, RouterOptions{}))
	defer server.Close()
	f := fixture{client: client, server: server, admin: reader}

	resp, _ := f.do(t, reader, http.MethodGet, "/admin/users/"+strconv.FormatInt(reader, 10), "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without registered admin permissions, got %d", resp.StatusCode)
	}
}
