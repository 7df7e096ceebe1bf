package config

import (
	"bufio"
	"strings"

	"github.com/joho/godotenv"
)

const envFileHeader = "# llmbench provider credentials\n# Named groups start with \"## <name>\".\n"

// parseEnvFile splits content on "## <group>" headers and decodes each part
// with godotenv. Lines before the first header form the default group.
func parseEnvFile(content string) (Credentials, error) {
	c := Credentials{Default: map[string]string{}}

	var (
		current string
		inGroup bool
		chunk   strings.Builder
	)
	flush := func() error {
		vals, err := godotenv.Unmarshal(chunk.String())
		if err != nil {
			return err
		}
		chunk.Reset()
		if !inGroup {
			for k, v := range vals {
				c.Default[k] = v
			}
			return nil
		}
		for i := range c.Groups {
			if c.Groups[i].Name == current {
				for k, v := range vals {
					c.Groups[i].Values[k] = v
				}
				return nil
			}
		}
		c.Groups = append(c.Groups, Group{Name: current, Values: vals})
		return nil
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := groupHeader(line); ok {
			if err := flush(); err != nil {
				return Credentials{}, err
			}
			current, inGroup = name, true
			continue
		}
		chunk.WriteString(line)
		chunk.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return Credentials{}, err
	}
	if err := flush(); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

func groupHeader(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "## ") {
		return "", false
	}
	name := strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
	return name, name != ""
}

func formatEnvFile(c Credentials) (string, error) {
	var b strings.Builder
	b.WriteString(envFileHeader)

	if len(c.Default) > 0 {
		body, err := godotenv.Marshal(c.Default)
		if err != nil {
			return "", err
		}
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}
	for _, g := range c.Groups {
		b.WriteString("\n## ")
		b.WriteString(g.Name)
		b.WriteString("\n")
		if len(g.Values) == 0 {
			continue
		}
		body, err := godotenv.Marshal(g.Values)
		if err != nil {
			return "", err
		}
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String(), nil
}
