package mail

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Product is the display name used in subjects and as the default sender name.
const Product = "Way-CMS"

var (
	magicText = texttemplate.Must(texttemplate.New("magic").Parse(`Hello{{if .Name}} {{.Name}}{{end}},

Use this link to sign in to {{.Product}}:

{{.URL}}

The link expires in {{.Hours}} hours and can be used once.
If you did not request it, ignore this email.
`))
	magicHTML = htmltemplate.Must(htmltemplate.New("magic").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<p>Hello{{if .Name}} {{.Name}}{{end}},</p>
<p>Use this link to sign in to {{.Product}}:</p>
<p><a href="{{.URL}}" style="display:inline-block;padding:10px 20px;background:#2563eb;color:#fff;text-decoration:none;border-radius:4px">Sign in</a></p>
<p style="color:#666;font-size:12px">The link expires in {{.Hours}} hours and can be used once. If you did not request it, ignore this email.</p>
</body></html>
`))
	welcomeText = texttemplate.Must(texttemplate.New("welcome").Parse(`Hello{{if .Name}} {{.Name}}{{end}},

An account has been created for you on {{.Product}}.
{{if .Projects}}
You have access to:
{{range .Projects}}  - {{.}}
{{end}}{{end}}
Sign in with this link:

{{.URL}}

The link expires in {{.Hours}} hours.
`))
	welcomeHTML = htmltemplate.Must(htmltemplate.New("welcome").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<p>Hello{{if .Name}} {{.Name}}{{end}},</p>
<p>An account has been created for you on {{.Product}}.</p>
{{if .Projects}}<p>You have access to:</p>
<ul>{{range .Projects}}<li>{{.}}</li>{{end}}</ul>{{end}}
<p><a href="{{.URL}}" style="display:inline-block;padding:10px 20px;background:#2563eb;color:#fff;text-decoration:none;border-radius:4px">Sign in</a></p>
<p style="color:#666;font-size:12px">The link expires in {{.Hours}} hours.</p>
</body></html>
`))
)

type templateData struct {
	Product  string
	Name     string
	URL      string
	Hours    int
	Projects []string
}

// MagicLinkMessage builds the sign-in email carrying url.
func MagicLinkMessage(to, name, url string, hours int) Message {
	d := templateData{Product: Product, Name: name, URL: url, Hours: hours}
	return Message{
		To:      to,
		Subject: "Your " + Product + " sign-in link",
		Text:    execText(magicText, d),
		HTML:    execHTML(magicHTML, d),
	}
}

// WelcomeMessage builds the email sent to a newly created user.
func WelcomeMessage(to, name, url string, hours int, projects []string) Message {
	d := templateData{Product: Product, Name: name, URL: url, Hours: hours, Projects: projects}
	return Message{
		To:      to,
		Subject: "Welcome to " + Product,
		Text:    execText(welcomeText, d),
		HTML:    execHTML(welcomeHTML, d),
	}
}

// TestMessage is the body of the admin "send test email" action.
func TestMessage(to string) Message {
	return Message{
		To:      to,
		Subject: Product + " test email",
		Text:    "This is a test email from " + Product + ". Mail delivery works.\n",
	}
}

func execText(t *texttemplate.Template, d templateData) string {
	var sb strings.Builder
	_ = t.Execute(&sb, d)
	return sb.String()
}

func execHTML(t *htmltemplate.Template, d templateData) string {
	var sb strings.Builder
	_ = t.Execute(&sb, d)
	return sb.String()
}
