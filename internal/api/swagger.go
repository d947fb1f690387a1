package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	yaml "gopkg.in/yaml.v3"
)

// SwaggerHandler serves Swagger UI with the OpenAPI document inlined and a dev-token
// preset ("role:id") for trying actions as admin or driver.
func (s *Server) SwaggerHandler(w http.ResponseWriter, r *http.Request) {
	var obj map[string]any
	if err := yaml.Unmarshal(openAPISpec, &obj); err != nil {
		writeProblem(w, 500, "OpenAPI parse failed", err.Error(), r.URL.Path)
		return
	}
	js, _ := json.Marshal(obj)
	b64 := base64.StdEncoding.EncodeToString(js)
	html := `<!DOCTYPE html><html lang="en"><head>
    <title>drivlet API console</title>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width,initial-scale=1">
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
    <style>body{margin:0} .topbar{display:none} .cfg{position:fixed;top:8px;right:8px;padding:8px;background:#fff;border:1px solid #ddd;z-index:9}</style>
    </head><body>
    <div class="cfg">
      <div><strong>Auth</strong></div>
      <div><label>Role: <select id="role"><option>admin</option><option>driver</option><option>system</option></select></label></div>
      <div><label>Actor id: <input id="actor" value="ops-1"></label></div>
      <div><label>Bearer token: <input id="token" style="width:240px"></label></div>
      <div><label><input type="checkbox" id="useDev"> Use dev role:id token</label></div>
      <button onclick="saveAuth()">Save</button>
    </div>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
    <script>
    const spec = JSON.parse(atob('` + b64 + `'));
    function loadAuth(){
      const r=localStorage.getItem('role')||'admin'; const a=localStorage.getItem('actor')||''; const k=localStorage.getItem('token')||''; const d=localStorage.getItem('useDev')==='1';
      document.getElementById('role').value=r; document.getElementById('actor').value=a; document.getElementById('token').value=k; document.getElementById('useDev').checked=d;
      return {role:r, actor:a, token:k, useDev:d};
    }
    function saveAuth(){ localStorage.setItem('role',document.getElementById('role').value); localStorage.setItem('actor',document.getElementById('actor').value); localStorage.setItem('token',document.getElementById('token').value); localStorage.setItem('useDev',document.getElementById('useDev').checked?'1':'0'); alert('Saved'); }
    loadAuth();
    SwaggerUIBundle({
        spec: spec,
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
        layout: "BaseLayout",
        requestInterceptor: (req) => {
            const p = loadAuth();
            if (p.useDev && p.role && p.actor) { req.headers['Authorization'] = 'Bearer ' + p.role + ':' + p.actor; }
            else if (p.token) { req.headers['Authorization'] = 'Bearer ' + p.token; }
            return req;
        }
    });
    </script>
    </body></html>`
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(html))
}
