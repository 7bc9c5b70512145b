// Package config loads and validates the authgate YAML configuration.
//
// The file has three scopes for the authRequest directive: the top level,
// each server, and each location of a server. An inner scope inherits the
// directive from the enclosing one unless it sets its own value; "off"
// disables the gate and stops inheritance.
//
//	authRequest: /auth
//	servers:
//	  - name: main
//	    listen: ":8080"
//	    locations:
//	      - path: /
//	        proxyPass: app
//	      - path: /public
//	        authRequest: "off"
//	        proxyPass: app
//	      - path: /auth
//	        internal: true
//	        proxyPass: auth
//	upstreams:
//	  - name: app
//	    url: http://127.0.0.1:9000
//	  - name: auth
//	    url: http://127.0.0.1:9001
//
// Values of the form ${VAR} and ${VAR:-default} are substituted from the
// environment before parsing; "$$" yields a literal dollar sign.
package config
