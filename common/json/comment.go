package json

// StripComments blanks out `//`, `#` and `/* */` comments outside of string literals.
// Newlines inside comments are kept so decoder offsets still map to the same rows.
func StripComments(content []byte) []byte {
	output := make([]byte, 0, len(content))
	var quote byte
	for i := 0; i < len(content); i++ {
		x := content[i]
		if quote != 0 {
			output = append(output, x)
			if x == '\\' && i+1 < len(content) {
				i++
				output = append(output, content[i])
			} else if x == quote {
				quote = 0
			}
			continue
		}
		switch {
		case x == '"' || x == '\'':
			quote = x
			output = append(output, x)
		case x == '#' || x == '/' && i+1 < len(content) && content[i+1] == '/':
			for i < len(content) && content[i] != '\n' {
				output = append(output, ' ')
				i++
			}
			if i < len(content) {
				output = append(output, '\n')
			}
		case x == '/' && i+1 < len(content) && content[i+1] == '*':
			output = append(output, ' ', ' ')
			i += 2
			for ; i < len(content); i++ {
				if content[i] == '*' && i+1 < len(content) && content[i+1] == '/' {
					output = append(output, ' ', ' ')
					i++
					break
				}
				if content[i] == '\n' {
					output = append(output, '\n')
				} else {
					output = append(output, ' ')
				}
			}
		default:
			output = append(output, x)
		}
	}
	return output
}
