// Package httpclient is the HTTP transport used to reach LLM providers.
//
// It applies authentication and default headers, classifies failures into
// the llmhub error taxonomy and hands streamed response bodies to the
// caller unbuffered. Subpackage sse holds the incremental decoders used on
// those bodies.
//
//	client, err := httpclient.New(httpclient.Config{
//	    Name:    "deepseek",
//	    BaseURL: "https://api.deepseek.com",
//	    Auth:    httpclient.BearerAuth(apiKey),
//	})
//	body, err := client.Stream(ctx, httpclient.Request{Path: "/chat/completions", Body: payload})
//	defer body.Close()
package httpclient
