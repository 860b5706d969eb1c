package topology

import (
	"fmt"
	"sort"
	"strings"
)

// Build describes the multi-stage container image
type Build struct {
	BuilderImage string
	RuntimeImage string
	Package      string
	Binary       string
	Env          map[string]string
	Expose       int
	Cmd          []string
}

// DefaultBuild is the image the web service is built from
func DefaultBuild() Build {
	return Build{
		BuilderImage: "golang:1.24-alpine",
		RuntimeImage: "alpine:3.20",
		Package:      "./cmd/tracker",
		Binary:       "tracker",
		Env:          map[string]string{"STATIC_ROOT": StaticMountPath},
		Expose:       WebPort,
		Cmd:          []string{"tracker", "serve"},
	}
}

// Dockerfile renders the build
func (b Build) Dockerfile() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "FROM %s AS builder\n", b.BuilderImage)
	sb.WriteString("WORKDIR /src\n")
	sb.WriteString("COPY go.mod go.sum ./\n")
	sb.WriteString("RUN go mod download\n")
	sb.WriteString("COPY . .\n")
	fmt.Fprintf(&sb, "RUN CGO_ENABLED=0 go build -trimpath -ldflags=\"-s -w\" -o /out/%s %s\n\n", b.Binary, b.Package)

	fmt.Fprintf(&sb, "FROM %s\n", b.RuntimeImage)
	sb.WriteString("RUN apk add --no-cache ca-certificates tzdata\n")
	sb.WriteString("WORKDIR /app\n")
	fmt.Fprintf(&sb, "COPY --from=builder /out/%s /usr/local/bin/%s\n", b.Binary, b.Binary)

	keys := make([]string, 0, len(b.Env))
	for k := range b.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "ENV %s=%s\n", k, b.Env[k])
	}

	fmt.Fprintf(&sb, "EXPOSE %d\n", b.Expose)

	quoted := make([]string, len(b.Cmd))
	for i, arg := range b.Cmd {
		quoted[i] = fmt.Sprintf("%q", arg)
	}
	fmt.Fprintf(&sb, "CMD [%s]\n", strings.Join(quoted, ", "))
	return sb.String()
}
