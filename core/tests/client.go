package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"assembler/core/services"

	"github.com/go-chi/chi/v5"
)

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
	login    *loginInfo
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{
		api:      api,
		method:   method,
		endpoint: endpoint,
	}
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Login(email, password string) *httpTestRequest {
	r.login = &loginInfo{Email: email, Password: password}
	return r
}

func (r *httpTestRequest) Auth(token string) *httpTestRequest {
	return r.Header("Authorization", fmt.Sprintf("Bearer %v", token))
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader) *httpTestRequest {
	r.body = body
	return r
}

// File attaches content as a multipart form file under the "file" field.
func (r *httpTestRequest) File(filename string, content io.Reader) *httpTestRequest {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		panic(err)
	}
	if _, err := io.Copy(part, content); err != nil {
		panic(err)
	}
	if err := writer.Close(); err != nil {
		panic(err)
	}
	r.body = body
	return r.Header("Content-Type", writer.FormDataContentType())
}

// response body will be parsed into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	if r.login != nil {
		req.SetBasicAuth(r.login.Email, r.login.Password)
	}

	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

// DoRaw returns the raw response body, for non-json endpoints.
func (r *httpTestRequest) DoRaw() (string, error) {
	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	if r.headers != nil {
		for k, v := range r.headers {
			req.Header.Add(k, v)
		}
	}

	w := httptest.NewRecorder()
	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	return w.Body.String(), nil
}

var ErrUnauthorized = errors.New("unauthorized")

type client struct {
	api       chi.Router
	authToken string
	userId    string
}

func (c *client) Get(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "GET", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Post(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "POST", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, "DELETE", endpoint)
	if c.authToken != "" {
		return r.Auth(c.authToken)
	}
	return r
}

type loginInfo struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *client) signup(name, email, password string) (loginInfo, error) {
	body := map[string]string{
		"email": email, "first_name": name, "last_name": "Test", "password": password,
	}

	err := c.Post("/user/signup").Json(body).Do(nil)
	if err != nil {
		return loginInfo{}, err
	}

	return loginInfo{Email: email, Password: password}, nil
}

func (c *client) login(login loginInfo) error {
	var res map[string]string
	err := c.Get("/user/login").Login(login.Email, login.Password).Do(&res)
	if err != nil {
		return err
	}

	c.authToken = res["access_token"]
	c.userId = res["user_id"]

	return nil
}

func (c *client) listUsers() ([]services.UserInfo, error) {
	var res []services.UserInfo
	err := c.Get("/user/list").Do(&res)
	return res, err
}

func (c *client) userInfo() (services.UserInfo, error) {
	var res services.UserInfo
	err := c.Get("/user/info").Do(&res)
	return res, err
}

func (c *client) promoteAdmin(userId string) error {
	return c.Post(fmt.Sprintf("/user/%v/admin", userId)).Do(nil)
}

func (c *client) demoteAdmin(userId string) error {
	return c.Delete(fmt.Sprintf("/user/%v/admin", userId)).Do(nil)
}

func (c *client) createRole(name string) (string, error) {
	var res map[string]string
	err := c.Post("/role/create").Json(map[string]string{"name": name}).Do(&res)
	return res["role_id"], err
}

func (c *client) assignRole(roleId, userId string) error {
	return c.Post(fmt.Sprintf("/role/%v/users/%v", roleId, userId)).Do(nil)
}

func (c *client) removeRole(roleId, userId string) error {
	return c.Delete(fmt.Sprintf("/role/%v/users/%v", roleId, userId)).Do(nil)
}

func (c *client) listRoles() ([]services.RoleInfo, error) {
	var res []services.RoleInfo
	err := c.Get("/role/list").Do(&res)
	return res, err
}

func (c *client) createMachine(name, version string) (string, error) {
	var res map[string]string
	err := c.Post("/machine/create").Json(map[string]string{"name": name, "version": version}).Do(&res)
	return res["machine_id"], err
}

func (c *client) createModule(decimal, name string) (string, error) {
	var res map[string]string
	err := c.Post("/module/create").Json(map[string]string{"decimal": decimal, "name": name}).Do(&res)
	return res["module_id"], err
}

func (c *client) createPart(name string) (string, error) {
	var res map[string]string
	err := c.Post("/part/create").Json(map[string]string{"name": name}).Do(&res)
	return res["part_id"], err
}

func (c *client) attachModule(machineId, moduleId string, quantity uint) error {
	return c.Post(fmt.Sprintf("/machine/%v/modules/%v", machineId, moduleId)).
		Json(map[string]uint{"quantity": quantity}).Do(nil)
}

func (c *client) setModuleParent(moduleId string, parentId *string) error {
	body := map[string]interface{}{"parent_module_id": parentId}
	return c.Post(fmt.Sprintf("/module/%v/parent", moduleId)).Json(body).Do(nil)
}

func (c *client) attachPart(moduleId, partId string, quantity uint) error {
	return c.Post(fmt.Sprintf("/module/%v/parts/%v", moduleId, partId)).
		Json(map[string]uint{"quantity": quantity}).Do(nil)
}

func (c *client) createTask(recipientId, title, message string) (string, error) {
	body := map[string]string{"recipient_id": recipientId, "title": title, "message": message}
	var res map[string]string
	err := c.Post("/task/create").Json(body).Do(&res)
	return res["task_id"], err
}

func (c *client) taskAction(taskId, action string) (string, error) {
	var res map[string]string
	err := c.Post(fmt.Sprintf("/task/%v/transition", taskId)).Json(map[string]string{"action": action}).Do(&res)
	return res["status"], err
}

func (c *client) listTasks(query string) ([]services.TaskInfo, error) {
	endpoint := "/task/list"
	if query != "" {
		endpoint += "?" + query
	}
	var res []services.TaskInfo
	err := c.Get(endpoint).Do(&res)
	return res, err
}

func (c *client) deleteTask(taskId string) error {
	return c.Delete(fmt.Sprintf("/task/%v", taskId)).Do(nil)
}
