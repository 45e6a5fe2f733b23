package main

import (
	"fmt"
	"os"
)

func runCompletion(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: webverify completion <bash|zsh|fish|powershell>")
		return 2
	}

	shell := args[0]
	switch shell {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	case "powershell":
		fmt.Print(powershellCompletion)
	default:
		fmt.Fprintf(os.Stderr, "unsupported shell: %s\n", shell)
		fmt.Fprintln(os.Stderr, "Supported shells: bash, zsh, fish, powershell")
		return 2
	}

	return 0
}

const bashCompletion = `# webverify bash completion
_webverify_completions() {
    local cur prev commands
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"
    commands="serve mcp check policy cache completion version"

    case "${prev}" in
        webverify)
            COMPREPLY=( $(compgen -W "${commands}" -- "${cur}") )
            return 0
            ;;
        policy)
            COMPREPLY=( $(compgen -W "approve reject forget list" -- "${cur}") )
            return 0
            ;;
        cache)
            COMPREPLY=( $(compgen -W "list clear forget" -- "${cur}") )
            return 0
            ;;
        completion)
            COMPREPLY=( $(compgen -W "bash zsh fish powershell" -- "${cur}") )
            return 0
            ;;
        --config|-config)
            COMPREPLY=( $(compgen -f -- "${cur}") )
            return 0
            ;;
    esac

    if [[ "${cur}" == -* ]]; then
        COMPREPLY=( $(compgen -W "--config --quiet --verbose --version --json --tui --follow --no-capture --timeout --watch" -- "${cur}") )
        return 0
    fi
}
complete -F _webverify_completions webverify
`

const zshCompletion = `#compdef webverify
# webverify zsh completion

_webverify() {
    local -a commands
    commands=(
        'serve:Run the native messaging host on stdio'
        'mcp:Start MCP server on stdio'
        'check:Open pages and report their verification outcome'
        'policy:Manage author decisions'
        'cache:Inspect the verification result cache'
        'completion:Generate shell completions'
        'version:Print version and exit'
    )

    _arguments -C \
        '--config[Configuration file]:file:_files' \
        '(-q --quiet)'{-q,--quiet}'[Log errors only]' \
        '(-v --verbose)'{-v,--verbose}'[Debug logging]' \
        '--version[Print version]' \
        '1:command:->cmds' \
        '*::arg:->args'

    case "$state" in
        cmds)
            _describe 'command' commands
            ;;
        args)
            case "${words[1]}" in
                policy)
                    _values 'subcommand' approve reject forget list
                    ;;
                cache)
                    _values 'subcommand' list clear forget
                    ;;
                completion)
                    _values 'shell' bash zsh fish powershell
                    ;;
            esac
            ;;
    esac
}

_webverify "$@"
`

const fishCompletion = `# webverify fish completion
complete -c webverify -n '__fish_use_subcommand' -a 'serve' -d 'Run the native messaging host on stdio'
complete -c webverify -n '__fish_use_subcommand' -a 'mcp' -d 'Start MCP server on stdio'
complete -c webverify -n '__fish_use_subcommand' -a 'check' -d 'Open pages and report their verification outcome'
complete -c webverify -n '__fish_use_subcommand' -a 'policy' -d 'Manage author decisions'
complete -c webverify -n '__fish_use_subcommand' -a 'cache' -d 'Inspect the verification result cache'
complete -c webverify -n '__fish_use_subcommand' -a 'completion' -d 'Generate shell completions'
complete -c webverify -n '__fish_use_subcommand' -a 'version' -d 'Print version and exit'
complete -c webverify -l config -d 'Configuration file' -rF
complete -c webverify -s q -l quiet -d 'Log errors only'
complete -c webverify -s v -l verbose -d 'Debug logging'
complete -c webverify -l version -d 'Print version'
complete -c webverify -n '__fish_seen_subcommand_from check' -l tui -d 'Interactive popup'
complete -c webverify -n '__fish_seen_subcommand_from check' -l follow -d 'Follow a link from each page'
complete -c webverify -n '__fish_seen_subcommand_from policy' -a 'approve reject forget list'
complete -c webverify -n '__fish_seen_subcommand_from cache' -a 'list clear forget'
complete -c webverify -n '__fish_seen_subcommand_from completion' -a 'bash zsh fish powershell'
`

const powershellCompletion = `# webverify PowerShell completion
Register-ArgumentCompleter -CommandName webverify -ScriptBlock {
    param($wordToComplete, $commandAst, $cursorPosition)

    $commands = @('serve', 'mcp', 'check', 'policy', 'cache', 'completion', 'version')

    $commands | Where-Object { $_ -like "$wordToComplete*" } | ForEach-Object {
        [System.Management.Automation.CompletionResult]::new($_, $_, 'ParameterValue', $_)
    }
}
`
