package browser

import "fmt"

// 所有选择器都经过 JSON 编码后嵌入脚本，不做字符串拼接

const (
	pageInfoScript = `({url: location.href, title: document.title})`
	readyScript    = `document.readyState === "complete"`
)

func clickScript(sel string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.scrollIntoView({block: "center"});
	el.click();
	return true;
})()`, encode(sel))
}

func existsScript(sel string) string {
	return fmt.Sprintf(`document.querySelector(%s) !== null`, encode(sel))
}

func fragmentsScript(sel string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s), el => el.outerHTML)`, encode(sel))
}

func scrollScript(amount int) string {
	return fmt.Sprintf(`window.scrollBy(0, %d)`, amount)
}

func arrivedScript(url string) string {
	return fmt.Sprintf(`document.readyState === "complete" && location.href === %s`, encode(url))
}
