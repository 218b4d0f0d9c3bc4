// Package proxy serves /assets/* requests: it maps the request path onto the
// configured asset origin and answers from the model cache, downloading on a miss.
package proxy
